package routing

import "strings"

// Matcher determines whether a routing-key pattern matches a derived
// routing key, using AMQP topic-exchange semantics.
type Matcher interface {
	Match(pattern, routingKey string) bool
}

// DefaultMatcher supports exact matching, single-level wildcard (*), and
// multi-level wildcard (#), the same semantics the main exchange applies
// (spec.md §4.1):
//
//	"camunda.orders"   matches "camunda.orders"          (exact)
//	"camunda.*"        matches "camunda.orders"           (single-level)
//	"camunda.*"        does NOT match "camunda.us.orders"
//	"errors.#"         matches "errors.camunda_tasks"      (multi-level)
var DefaultMatcher Matcher = defaultMatcher{}

type defaultMatcher struct{}

func (defaultMatcher) Match(pattern, routingKey string) bool {
	patParts := strings.Split(pattern, ".")
	keyParts := strings.Split(routingKey, ".")
	return matchFrom(patParts, 0, keyParts, 0)
}

func matchFrom(pat []string, pi int, key []string, ki int) bool {
	for pi < len(pat) && ki < len(key) {
		switch pat[pi] {
		case "#":
			if pi == len(pat)-1 {
				return true
			}
			pi++
			for ki <= len(key) {
				if matchFrom(pat, pi, key, ki) {
					return true
				}
				ki++
			}
			return false
		case "*":
			pi++
			ki++
		default:
			if pat[pi] != key[ki] {
				return false
			}
			pi++
			ki++
		}
	}
	// The key is exhausted: any remaining "#" segments match zero levels.
	for pi < len(pat) && pat[pi] == "#" {
		pi++
	}
	return pi == len(pat) && ki == len(key)
}
