package order

// transitions is the forward lifecycle driven by UpdateOrderStatus and
// BulkUpdateStatus. A status missing from the map accepts nothing.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// afterSales holds the edges out of the lifecycle's final states. They are
// reached only through MarkReturned and MarkRefunded, never UpdateOrderStatus.
var afterSales = map[Status]map[Status]bool{
	StatusDelivered: {StatusReturned: true},
	StatusCancelled: {StatusRefunded: true},
	StatusReturned:  {StatusRefunded: true},
}

func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

func canTransitionAfterSales(from, to Status) bool {
	return afterSales[from][to]
}

// IsTerminal reports whether the forward lifecycle has ended for s.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}
