package document

import "github.com/pixell07/docpipeline/internal/apperrors"

// legalEdges enumerates spec.md §4.2's state machine. Anything not listed
// here is rejected with InvalidStateTransition.
var legalEdges = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusFailed: true},
	StatusProcessing: {StatusDone: true, StatusFailed: true},
	StatusFailed:     {StatusPending: true}, // retry only, via retry_document
	StatusDone:       {},                    // terminal
}

// validateTransition is a pure function so the state machine's edges can
// be exhaustively unit tested without a database (spec.md §8 scenario 7).
func validateTransition(current, target Status) error {
	if edges, ok := legalEdges[current]; ok && edges[target] {
		return nil
	}
	return &apperrors.InvalidStateTransition{From: string(current), To: string(target)}
}
