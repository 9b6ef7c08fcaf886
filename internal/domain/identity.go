package domain

import "fmt"

type OwnerKind string

const (
	OwnerGuest OwnerKind = "guest"
	OwnerUser  OwnerKind = "user"
)

// Owner identifies the single identity a cart belongs to.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func Guest(sessionID string) Owner {
	return Owner{Kind: OwnerGuest, ID: sessionID}
}

func User(userID string) Owner {
	return Owner{Kind: OwnerUser, ID: userID}
}

func (o Owner) Validate() error {
	if o.ID == "" {
		return Invalid("owner", "identity is required")
	}
	if o.Kind != OwnerGuest && o.Kind != OwnerUser {
		return Invalid("owner", fmt.Sprintf("unknown identity kind %q", o.Kind))
	}
	return nil
}

// Key is the storage key, unique across both kinds.
func (o Owner) Key() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.ID)
}

func (o Owner) String() string {
	return o.Key()
}

// Profile stamps orders with the customer's details.
type Profile struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}
