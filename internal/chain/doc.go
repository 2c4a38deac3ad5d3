// Package chain describes the ordered stages a task moves through.
//
// A Chain always begins with a synthetic start stage that only has a
// completed name. Every following stage carries an intermediate name (the
// persisted "entered" marker), a completed name (the persisted "finished"
// marker) and the identifier of the processor that performs it. Both names
// resolve to the same Stage, so a task's persisted stage can be looked up
// without knowing which form was stored.
//
// Chains are built once through a Builder and are immutable afterwards;
// they are safe for concurrent use. Definitions can also be loaded from YAML
// keyed by task kind.
package chain
