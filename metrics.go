// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package msgport

import "expvar"

// portMetrics record port activity counters.
type portMetrics struct {
	posted       expvar.Int // messages accepted by PostMessage
	delivered    expvar.Int // messages dispatched to at least one listener
	dropped      expvar.Int // messages discarded without delivery
	cloneErr     expvar.Int // PostMessage calls rejected with an error
	transfers    expvar.Int // resources transferred with messages
	portsOpen    expvar.Int // gauge: ports not yet closed
	portsStarted expvar.Int // gauge: ports currently delivering
	portsClosed  expvar.Int // ports that completed teardown

	emap *expvar.Map
}

var rootMetrics = newPortMetrics()

func newPortMetrics() *portMetrics {
	pm := &portMetrics{emap: new(expvar.Map)}
	pm.emap.Set("messages_posted", &pm.posted)
	pm.emap.Set("messages_delivered", &pm.delivered)
	pm.emap.Set("messages_dropped", &pm.dropped)
	pm.emap.Set("clone_errors", &pm.cloneErr)
	pm.emap.Set("transfers", &pm.transfers)
	pm.emap.Set("ports_open", &pm.portsOpen)
	pm.emap.Set("ports_started", &pm.portsStarted)
	pm.emap.Set("ports_closed", &pm.portsClosed)
	return pm
}
