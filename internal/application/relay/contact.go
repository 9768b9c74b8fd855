package relay

import (
	"strings"

	"github.com/neese/crmsync/internal/domain/relay"
)

// ContactSource names where a contact field candidate comes from
type ContactSource string

const (
	// ContactSourcePerson is the person resolved from the storefront API
	ContactSourcePerson ContactSource = "person"
	// ContactSourceRecord is the contact denormalized on the cart or order
	ContactSourceRecord ContactSource = "record"
)

// DefaultContactName is used when no name candidate is present
const DefaultContactName = "Cliente"

// Field precedence, first non-empty candidate wins. The API person carries
// the complete e-mail, while the record holds the phone typed at checkout.
var (
	NamePrecedence  = []ContactSource{ContactSourcePerson, ContactSourceRecord}
	EmailPrecedence = []ContactSource{ContactSourcePerson, ContactSourceRecord}
	PhonePrecedence = []ContactSource{ContactSourceRecord, ContactSourcePerson}
)

// ResolveContact builds the outbound person block from the resolved person
// (may be nil) and the contact captured on the record. The phone is normalized.
func ResolveContact(person *relay.PersonRecord, record relay.ContactFields) relay.PersonBlock {
	candidates := map[ContactSource]relay.ContactFields{
		ContactSourceRecord: record,
	}
	if person != nil {
		candidates[ContactSourcePerson] = relay.ContactFields{
			Name:  person.Name,
			Email: person.Email,
			Phone: person.Phone,
		}
	}

	name := pickContactField(candidates, NamePrecedence, func(c relay.ContactFields) string { return c.Name })
	if name == "" {
		name = DefaultContactName
	}

	return relay.PersonBlock{
		Name:  name,
		Email: pickContactField(candidates, EmailPrecedence, func(c relay.ContactFields) string { return c.Email }),
		Phone: NormalizePhone(pickContactField(candidates, PhonePrecedence, func(c relay.ContactFields) string { return c.Phone })),
	}
}

func pickContactField(
	candidates map[ContactSource]relay.ContactFields,
	precedence []ContactSource,
	field func(relay.ContactFields) string,
) string {
	for _, src := range precedence {
		c, ok := candidates[src]
		if !ok {
			continue
		}
		if v := strings.TrimSpace(field(c)); v != "" {
			return v
		}
	}
	return ""
}
