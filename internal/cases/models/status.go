package models

import (
	dErrors "civicwatch/pkg/domain-errors"
)

// Status is the lifecycle position of a case.
type Status string

const (
	StatusFiled         Status = "filed"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusFiled, StatusInvestigating, StatusResolved}

var statusRank = map[Status]int{
	StatusFiled:         0,
	StatusInvestigating: 1,
	StatusResolved:      2,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := statusRank[st]; !ok {
		return "", dErrors.New(dErrors.CodeValidation, "unknown status: "+s)
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// CanTransitionTo reports whether the move is strictly forward.
// Same-state and backward moves are both rejected.
func (s Status) CanTransitionTo(target Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[target]
	if !ok {
		return false
	}
	return to > from
}

// IsTerminal reports whether no further transition exists.
func (s Status) IsTerminal() bool {
	return s == StatusResolved
}

// ComplaintType classifies the misconduct a case reports.
type ComplaintType string

const (
	TypeBribery      ComplaintType = "bribery"
	TypeNepotism     ComplaintType = "nepotism"
	TypeFraud        ComplaintType = "fraud"
	TypeEmbezzlement ComplaintType = "embezzlement"
	TypeOthers       ComplaintType = "others"
)

// ParseComplaintType maps empty input to TypeOthers.
func ParseComplaintType(s string) (ComplaintType, error) {
	switch t := ComplaintType(s); t {
	case "":
		return TypeOthers, nil
	case TypeBribery, TypeNepotism, TypeFraud, TypeEmbezzlement, TypeOthers:
		return t, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "unknown complaint type: "+s)
	}
}

// AnalysisState tracks whether an analysis result has been recorded.
type AnalysisState string

const (
	AnalysisPending   AnalysisState = "pending"
	AnalysisCompleted AnalysisState = "completed"
	AnalysisFailed    AnalysisState = "failed"
)
