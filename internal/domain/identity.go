package domain

import "fmt"

type IdentityKind int

const (
	IdentityNone IdentityKind = iota
	IdentityAnonymous
	IdentityAccount
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityAnonymous:
		return "anonymous"
	case IdentityAccount:
		return "account"
	default:
		return "none"
	}
}

// Identity is the resolved identity of whoever drives a cart
type Identity struct {
	Kind      IdentityKind
	AccountID string
}

func NoIdentity() Identity { return Identity{Kind: IdentityNone} }

func Anonymous() Identity { return Identity{Kind: IdentityAnonymous} }

func Account(id string) Identity { return Identity{Kind: IdentityAccount, AccountID: id} }

func (i Identity) IsAccount() bool { return i.Kind == IdentityAccount }

// SameBacking reports whether i and other are served by the same cart store
func (i Identity) SameBacking(other Identity) bool {
	if i.IsAccount() || other.IsAccount() {
		return i == other
	}
	return true
}

func (i Identity) String() string {
	if i.IsAccount() {
		return fmt.Sprintf("account(%s)", i.AccountID)
	}
	return i.Kind.String()
}
