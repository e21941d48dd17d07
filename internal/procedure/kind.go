package procedure

import (
	"fmt"
	"strings"
)

// Kind tags a procedure as a query, a mutation or a subscription. Each kind
// has its own key namespace in the registry.
type Kind int

const (
	KindQuery Kind = iota
	KindMutation
	KindSubscription
)

// Kinds lists every valid Kind in declaration order.
var Kinds = []Kind{KindQuery, KindMutation, KindSubscription}

var kindNames = [...]string{
	KindQuery:        "query",
	KindMutation:     "mutation",
	KindSubscription: "subscription",
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool { return k >= 0 && int(k) < len(kindNames) }

// Streaming reports whether procedures of kind k produce sequences.
func (k Kind) Streaming() bool { return k == KindSubscription }

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid procedure kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind name produced by MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a kind name, ignoring case.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown procedure kind %q", s)
}
