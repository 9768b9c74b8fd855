package relay

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Cart status policy
// ---------------------------------------------------------------------------

// CartStatusPolicy is a named set of cart statuses enabled for relaying.
// Converted carts are never allowed regardless of the set.
type CartStatusPolicy struct {
	name     string
	statuses map[CartStatus]struct{}
}

// NewCartStatusPolicy creates a named policy enabling the given statuses
func NewCartStatusPolicy(name string, statuses ...CartStatus) CartStatusPolicy {
	set := make(map[CartStatus]struct{}, len(statuses))
	for _, s := range statuses {
		if s == CartStatusConverted {
			continue
		}
		set[s] = struct{}{}
	}
	return CartStatusPolicy{name: name, statuses: set}
}

// Named cart policies
var (
	CartPolicyAbandonedOnly        = NewCartStatusPolicy("abandoned-only", CartStatusAbandoned)
	CartPolicyCheckoutOnly         = NewCartStatusPolicy("checkout-only", CartStatusCheckout)
	CartPolicyCheckoutAndAbandoned = NewCartStatusPolicy("checkout-and-abandoned", CartStatusCheckout, CartStatusAbandoned)
	CartPolicyAllOpen              = NewCartStatusPolicy("all-open", CartStatusOpen, CartStatusCheckout, CartStatusAbandoned)
)

var cartPolicies = map[string]CartStatusPolicy{
	CartPolicyAbandonedOnly.name:        CartPolicyAbandonedOnly,
	CartPolicyCheckoutOnly.name:         CartPolicyCheckoutOnly,
	CartPolicyCheckoutAndAbandoned.name: CartPolicyCheckoutAndAbandoned,
	CartPolicyAllOpen.name:              CartPolicyAllOpen,
}

// CartStatusPolicyByName looks up a named policy
func CartStatusPolicyByName(name string) (CartStatusPolicy, error) {
	p, ok := cartPolicies[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return CartStatusPolicy{}, fmt.Errorf("%w: %q", ErrUnknownCartPolicy, name)
	}
	return p, nil
}

// Name returns the policy name
func (p CartStatusPolicy) Name() string {
	return p.name
}

// Allows reports whether carts in the given status are relayed
func (p CartStatusPolicy) Allows(status CartStatus) bool {
	if status == CartStatusConverted {
		return false
	}
	_, ok := p.statuses[status]
	return ok
}

// Statuses returns the enabled statuses ordered by storefront code
func (p CartStatusPolicy) Statuses() []CartStatus {
	out := make([]CartStatus, 0, len(p.statuses))
	for s := range p.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code() < out[j].Code() })
	return out
}

// ---------------------------------------------------------------------------
// Situation sets
// ---------------------------------------------------------------------------

// SituationSet is a set of order situation codes
type SituationSet struct {
	codes map[SituationCode]struct{}
}

// NewSituationSet creates a set from the given codes
func NewSituationSet(codes ...SituationCode) SituationSet {
	set := make(map[SituationCode]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return SituationSet{codes: set}
}

// SituationSetFromInts builds a set from plain integers (configuration input)
func SituationSetFromInts(codes []int) SituationSet {
	cs := make([]SituationCode, 0, len(codes))
	for _, c := range codes {
		cs = append(cs, SituationCode(c))
	}
	return NewSituationSet(cs...)
}

// Defaults for the order filters
var (
	// DefaultOrderAllowList enables awaiting payment and the canceled payment variants
	DefaultOrderAllowList = NewSituationSet(SituationAwaitingPayment, SituationPaymentCanceled, SituationPaymentReviewCanceled)
	// DefaultPaymentLookupSituations trigger a payment detail lookup
	DefaultPaymentLookupSituations = NewSituationSet(SituationAwaitingPayment, SituationPaymentCanceled, SituationPaymentReviewCanceled)
	// DefaultShipmentLookupSituations trigger a tracking lookup. None of them
	// is in DefaultOrderAllowList, so tracking enrichment stays off until the
	// allow-list (and the routing that follows it) admits one of these codes.
	DefaultShipmentLookupSituations = NewSituationSet(SituationInvoiceIssued, SituationInTransit, SituationDelivered)
)

// Contains reports whether the code is in the set
func (s SituationSet) Contains(code SituationCode) bool {
	_, ok := s.codes[code]
	return ok
}

// Len returns the number of codes
func (s SituationSet) Len() int {
	return len(s.codes)
}

// Codes returns the codes in ascending order
func (s SituationSet) Codes() []SituationCode {
	out := make([]SituationCode, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
