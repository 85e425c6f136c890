package payments

// transitions is the closed set of legal status changes. Settlement is the
// explicit authorized->captured edge; it closes the void window and opens the
// refund window. A transition never fires from gateway responses alone: it is
// driven by a verified webhook event or an orchestrator-confirmed provider
// response.
var transitions = map[Status][]Status{
	StatusPending:    {StatusAuthorized, StatusCaptured, StatusFailed},
	StatusAuthorized: {StatusCaptured, StatusVoided, StatusFailed},
	StatusCaptured:   {StatusRefunded},
	// failed, refunded, voided are terminal
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// IsSettled reports whether the transaction's funds have settled, which
// closes the void window.
func IsSettled(s Status) bool {
	return s == StatusCaptured || s == StatusRefunded
}

// StatusForEvent maps a webhook event onto the target status for the
// referenced transaction. Failed transaction and subscription-charge events
// land on StatusFailed; everything else follows the event type.
func StatusForEvent(t EventType, succeeded bool) Status {
	switch t {
	case EventTransaction, EventSubscriptionCharge:
		if !succeeded {
			return StatusFailed
		}
		return StatusCaptured
	case EventRefund:
		return StatusRefunded
	case EventVoid:
		return StatusVoided
	default:
		return StatusFailed
	}
}
