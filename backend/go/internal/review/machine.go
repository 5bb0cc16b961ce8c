// Package review 实现人工复核队列及其状态机。
//
//	pending ──assign──▶ in_review ──act──▶ approved | rejected | escalated
//	pending ──escalate──▶ escalated ──reopen(admin)──▶ in_review
package review

import (
	"factforge/backend/go/internal/apperr"
	"factforge/backend/go/internal/models"
)

// Op 是一次状态转换的种类。
type Op string

const (
	OpAssign   Op = "assign"
	OpApprove  Op = "approve"
	OpReject   Op = "reject"
	OpEscalate Op = "escalate"
	OpReopen   Op = "reopen"
)

// opForAction 把复核动作映射为状态转换。
func opForAction(a models.ReviewAction) Op {
	switch a {
	case models.ActionApprove:
		return OpApprove
	case models.ActionReject:
		return OpReject
	}
	return OpEscalate
}

type edge struct {
	from models.ReviewStatus
	op   Op
}

var edges = map[edge]models.ReviewStatus{
	{models.ReviewPending, OpAssign}:    models.ReviewInReview,
	{models.ReviewInReview, OpApprove}:  models.ReviewApproved,
	{models.ReviewInReview, OpReject}:   models.ReviewRejected,
	{models.ReviewInReview, OpEscalate}: models.ReviewEscalated,
	{models.ReviewPending, OpEscalate}:  models.ReviewEscalated,
	{models.ReviewEscalated, OpReopen}:  models.ReviewInReview,
}

// Next 返回从 from 执行 op 之后的状态，不允许时返回 InvalidTransition。
func Next(from models.ReviewStatus, op Op) (models.ReviewStatus, error) {
	if to, ok := edges[edge{from, op}]; ok {
		return to, nil
	}
	return "", apperr.New(apperr.KindInvalidTransition, "review.Next", "不能在 %s 状态执行 %s", from, op)
}

func eventFor(to models.ReviewStatus, op Op) string {
	switch {
	case op == OpAssign:
		return models.EventReviewAssigned
	case op == OpReopen:
		return models.EventReviewReopened
	case to == models.ReviewApproved:
		return models.EventReviewApproved
	case to == models.ReviewRejected:
		return models.EventReviewRejected
	}
	return models.EventReviewEscalated
}
