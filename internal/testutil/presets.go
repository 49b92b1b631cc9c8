package testutil

import "time"

// WithStandardTestData adds one instance per state across two namespaces,
// created one minute apart so "newest first" ordering is deterministic.
func (b *Builder) WithStandardTestData() *Builder {
	base := time.Now().UTC().Truncate(time.Millisecond).Add(-time.Hour)
	at := func(n int) time.Time { return base.Add(time.Duration(n) * time.Minute) }

	return b.
		WithInstance("awaiting-1", State("AWAITING_SIGNAL"), CreatedAt(at(0))).
		WithInstance("running-1", State("RUNNING"), CreatedAt(at(1)), Events(5),
			Task("sentiment", `{"sentiment":"POSITIVE","confidence":0.9}`), Task("summary", ""), Task("topics", "")).
		WithInstance("completed-1", State("COMPLETED"), CreatedAt(at(2)), Events(11),
			Result(`{"topics":["fox"]}`)).
		WithInstance("failed-1", State("FAILED"), CreatedAt(at(3)), Events(7),
			Failure(`{"kind":"TASK_FAILURE","message":"boom"}`)).
		WithInstance("cancelled-1", State("CANCELLED"), Namespace("team-b"), CreatedAt(at(4)), Events(4),
			Failure(`{"kind":"USER_CANCELLED"}`)).
		WithInstance("running-2", State("RUNNING"), Namespace("team-b"), CreatedAt(at(5)), Events(9),
			TimerFireAt(at(6)))
}
