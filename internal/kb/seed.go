package kb

// DefaultChunks returns the canonical chunks seeded at startup.
func DefaultChunks() []Chunk {
	return []Chunk{
		{
			ID:    "rb-payments-001",
			Title: "Runbook: Payments failing — gateway timeouts",
			Tags:  "payments_failing checkout_api gateway timeout circuit_breaker sev1",
			Content: "Checks: confirm health endpoint unhealthy; look for upstream timeout errors; " +
				"inspect upstream_timeout_rate and error_rate spikes; review recent deploys, flags, config.\n" +
				"Mitigations: revert gateway timeout to prior value; disable enable_new_gateway flag; rollback recent deploy.\n" +
				"Post-mitigation: confirm circuit breaker closes and error_rate drops.",
			Source: "runbooks/payments_failing.md#gateway-timeouts",
		},
		{
			ID:    "pol-sev-001",
			Title: "Policy: Severity rubric",
			Tags:  "sev sev1 sev2 sev3 policy",
			Content: "SEV1: payments failing or login outage with clear customer impact.\n" +
				"SEV2: partial degradation (elevated latency or partial failures).\n" +
				"SEV3: minor issue with limited/no customer impact.",
			Source: "policies/severity.md",
		},
		{
			ID:    "tpl-comms-001",
			Title: "Comms: Status update guidance",
			Tags:  "comms status_update template guidance",
			Content: "Initial update should avoid absolute root cause. Use: 'under investigation', 'appears related to'. " +
				"Include: what’s happening, customer impact, what we’re doing, next update ETA.\n" +
				"After mitigation: what changed, current status, remaining risk, next steps.",
			Source: "templates/comms.md#status-updates",
		},
		{
			ID:    "rb-login-001",
			Title: "Runbook: Login outage — identity provider errors",
			Tags:  "login_outage auth identity idp session sev1",
			Content: "Checks: confirm login success rate drop; look for identity provider 5xx and token validation errors; " +
				"inspect availability and error_rate by region; review recent auth config and certificate rotations.\n" +
				"Mitigations: roll back auth config change; fail over to secondary identity provider; extend session lifetimes.\n" +
				"Post-mitigation: confirm login success rate recovers and token errors stop.",
			Source: "runbooks/login_outage.md#idp-errors",
		},
		{
			ID:    "rb-latency-001",
			Title: "Runbook: Latency regression — p95 spike",
			Tags:  "latency_regression p95 latency slow_queries cache sev2",
			Content: "Checks: confirm p95_latency_ms above baseline; look for slow query and cache miss warnings; " +
				"compare request_rate_rps with capacity; review recent deploys and dependency upgrades.\n" +
				"Mitigations: roll back recent deploy; warm or scale the cache tier; shed non-critical traffic.\n" +
				"Post-mitigation: confirm p95 returns to baseline and queue depth drains.",
			Source: "runbooks/latency_regression.md#p95-spike",
		},
	}
}
