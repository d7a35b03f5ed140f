// Package audience resolves audiences to subscriber sets and computes the
// deduplicated reach of a campaign's audience selection.
//
// Static audiences resolve to their join-table rows; dynamic audiences are
// handed to a RuleEvaluator. Reach is always recomputed from current store
// state. The subscriber_count column is a display estimate maintained by the
// count refresh operations and is never read by reach.
//
// Repository implementations live in repository/postgres/.
package audience
