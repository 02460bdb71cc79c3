// Package optin decides whether checkout forms offer the newsletter checkbox
// and forwards opted-in purchasers to Campaign Monitor.
package optin

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"net/url"
	"strings"

	"github.com/asaskevich/govalidator"

	"github.com/cmoptin/internal/campaignmonitor"
	"github.com/cmoptin/internal/model"
)

// Checkout form field names.
const (
	FieldSignup    = "tgm-exchange-campaign-monitor-signup-field"
	FieldEmail     = "email"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
)

// Flows reported to the Observer.
const (
	FlowRegistration = "registration"
	FlowGuest        = "guest"
)

// Decision records what happened to one checkout submission.
type Decision string

const (
	Subscribed   Decision = "subscribed"
	Hidden       Decision = "hidden"
	Declined     Decision = "declined"
	InvalidEmail Decision = "invalid-email"
	Vetoed       Decision = "vetoed"
	Skipped      Decision = "skipped" // blank list, key or email after filtering
	Failed       Decision = "failed"
)

// Filter may rewrite the subscriber before it is sent. Returning false
// cancels the subscription.
type Filter func(model.Subscriber) (model.Subscriber, bool)

// OutputFilter may rewrite the rendered checkbox fragment.
type OutputFilter func(template.HTML) template.HTML

type Observer interface {
	ObserveOptin(flow string, decision Decision)
}

type subscriber interface {
	Subscribe(ctx context.Context, listID, apiKey string, sub model.Subscriber) campaignmonitor.SubscribeResult
}

var fieldTmpl = template.Must(template.New("optin").Parse(
	`<div class="tgm-exchange-campaign-monitor-signup" style="clear:both;">` +
		`<label for="tgm-exchange-campaign-monitor-signup-field">` +
		`<input type="checkbox" id="tgm-exchange-campaign-monitor-signup-field" name="tgm-exchange-campaign-monitor-signup-field" value="{{if .Checked}}1{{else}}0{{end}}"{{if .Checked}} checked="checked"{{end}} />` +
		`{{.Label}}</label></div>`))

// Injector renders and processes the opt-in checkbox.
type Injector struct {
	client   subscriber
	filter   Filter
	output   OutputFilter
	observer Observer
	logger   *slog.Logger
}

type Option func(*Injector)

func WithFilter(f Filter) Option {
	return func(i *Injector) { i.filter = f }
}

func WithOutputFilter(f OutputFilter) Option {
	return func(i *Injector) { i.output = f }
}

func WithObserver(o Observer) Option {
	return func(i *Injector) { i.observer = o }
}

func New(client subscriber, logger *slog.Logger, opts ...Option) *Injector {
	i := &Injector{client: client, logger: logger.With("component", "optin")}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Offered reports whether s is complete enough to show the checkbox.
func Offered(s *model.Settings) bool {
	return s.OptinReady()
}

// Field renders the checkbox, or nothing when the opt-in is hidden.
func (i *Injector) Field(s *model.Settings) template.HTML {
	if !Offered(s) {
		return ""
	}
	var buf bytes.Buffer
	err := fieldTmpl.Execute(&buf, struct {
		Checked bool
		// stored labels are escaped when saved
		Label template.HTML
	}{s.CheckedByDefault, template.HTML(s.Label)})
	if err != nil {
		i.logger.Error("optin: render failed", "err", err)
		return ""
	}
	out := template.HTML(buf.String())
	if i.output != nil {
		out = i.output(out)
	}
	return out
}

// Registration subscribes a registering customer who ticked the checkbox.
func (i *Injector) Registration(ctx context.Context, s *model.Settings, form url.Values) Decision {
	d := i.registration(ctx, s, form)
	i.observe(FlowRegistration, d)
	return d
}

func (i *Injector) registration(ctx context.Context, s *model.Settings, form url.Values) Decision {
	if !Offered(s) {
		return Hidden
	}
	if !form.Has(FieldSignup) {
		return Declined
	}
	email := strings.TrimSpace(form.Get(FieldEmail))
	if email == "" || !govalidator.IsEmail(email) {
		return InvalidEmail
	}
	first := strings.TrimSpace(form.Get(FieldFirstName))
	last := strings.TrimSpace(form.Get(FieldLastName))

	return i.subscribe(ctx, s, model.Subscriber{
		Email:       email,
		Name:        strings.TrimSpace(first + " " + last),
		Resubscribe: true,
	})
}

// Guest subscribes a guest checkout email. Guests are never shown the
// checkbox inline, so there is nothing to gate on.
func (i *Injector) Guest(ctx context.Context, s *model.Settings, email string) Decision {
	d := i.guest(ctx, s, email)
	i.observe(FlowGuest, d)
	return d
}

func (i *Injector) guest(ctx context.Context, s *model.Settings, email string) Decision {
	if !Offered(s) {
		return Hidden
	}
	email = strings.TrimSpace(email)
	if email == "" || !govalidator.IsEmail(email) {
		return InvalidEmail
	}
	return i.subscribe(ctx, s, model.Subscriber{Email: email})
}

func (i *Injector) subscribe(ctx context.Context, s *model.Settings, sub model.Subscriber) Decision {
	if i.filter != nil {
		var ok bool
		if sub, ok = i.filter(sub); !ok {
			return Vetoed
		}
	}
	res := i.client.Subscribe(ctx, strings.TrimSpace(s.ListID), strings.TrimSpace(s.APIKey), sub)
	switch res.Outcome {
	case campaignmonitor.OutcomeOK:
		return Subscribed
	case campaignmonitor.OutcomeSkipped:
		return Skipped
	default:
		i.logger.Warn("optin: subscribe failed", "outcome", res.Outcome, "err", res.Err)
		return Failed
	}
}

func (i *Injector) observe(flow string, d Decision) {
	if i.observer != nil {
		i.observer.ObserveOptin(flow, d)
	}
}
