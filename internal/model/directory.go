package model

// Client is a Campaign Monitor sub-account that owns mailing lists.
type Client struct {
	ID   string `json:"ClientID"`
	Name string `json:"Name"`
}

// MailingList is a subscriber list belonging to a Client.
type MailingList struct {
	ID   string `json:"ListID"`
	Name string `json:"Name"`
}

// Subscriber is built per checkout event and handed to Campaign Monitor.
type Subscriber struct {
	Email       string
	Name        string
	Resubscribe bool
}
