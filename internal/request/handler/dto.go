package handler

import (
	"time"

	id "entitle/pkg/domain"

	"entitle/internal/request"
)

type requestResponse struct {
	ID            id.RequestID   `json:"id"`
	RequestNumber string         `json:"request_number"`
	RequesterID   id.UserID      `json:"requester_id"`
	TargetUserID  id.UserID      `json:"target_user_id"`
	SystemID      id.SystemID    `json:"system_id"`
	SubsystemID   id.SubsystemID `json:"subsystem_id,omitempty"`
	RoleID        id.RoleID      `json:"role_id"`
	Type          request.Type   `json:"request_type"`
	Status        request.Status `json:"status"`
	Justification string         `json:"justification"`
	IsTemporary   bool           `json:"is_temporary"`
	ValidFrom     *time.Time     `json:"valid_from,omitempty"`
	ValidUntil    *time.Time     `json:"valid_until,omitempty"`
	CurrentStep   int            `json:"current_step"`
	CreatedAt     time.Time      `json:"created_at"`
	SubmittedAt   *time.Time     `json:"submitted_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

func toRequestResponse(req request.AccessRequest) requestResponse {
	return requestResponse{
		ID:            req.ID,
		RequestNumber: req.RequestNumber,
		RequesterID:   req.RequesterID,
		TargetUserID:  req.TargetUserID,
		SystemID:      req.SystemID,
		SubsystemID:   req.SubsystemID,
		RoleID:        req.RoleID,
		Type:          req.Type,
		Status:        req.Status,
		Justification: req.Justification,
		IsTemporary:   req.IsTemporary,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		CurrentStep:   req.CurrentStep,
		CreatedAt:     req.CreatedAt,
		SubmittedAt:   req.SubmittedAt,
		CompletedAt:   req.CompletedAt,
	}
}

func toRequestResponses(reqs []request.AccessRequest) []requestResponse {
	out := make([]requestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toRequestResponse(req))
	}
	return out
}

type stepResponse struct {
	ID           id.StepID          `json:"id"`
	StepNumber   int                `json:"step_number"`
	ApproverID   id.UserID          `json:"approver_id"`
	ApproverName string             `json:"approver_name,omitempty"`
	ApproverRole string             `json:"approver_role,omitempty"`
	Status       request.StepStatus `json:"status"`
	DecidedAt    *time.Time         `json:"decided_at,omitempty"`
	Comment      string             `json:"comment,omitempty"`
}

type commentResponse struct {
	ID        int64     `json:"id"`
	UserID    id.UserID `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type detailResponse struct {
	requestResponse
	RequesterName  string            `json:"requester_name,omitempty"`
	TargetUserName string            `json:"target_user_name,omitempty"`
	SystemName     string            `json:"system_name,omitempty"`
	SubsystemName  string            `json:"subsystem_name,omitempty"`
	RoleName       string            `json:"role_name,omitempty"`
	Steps          []stepResponse    `json:"steps"`
	Comments       []commentResponse `json:"comments"`
}

func toDetailResponse(d request.Detail) detailResponse {
	resp := detailResponse{
		requestResponse: toRequestResponse(d.AccessRequest),
		RequesterName:   d.RequesterName,
		TargetUserName:  d.TargetUserName,
		SystemName:      d.SystemName,
		SubsystemName:   d.SubsystemName,
		RoleName:        d.RoleName,
		Steps:           make([]stepResponse, 0, len(d.Steps)),
		Comments:        make([]commentResponse, 0, len(d.Comments)),
	}
	for _, st := range d.Steps {
		resp.Steps = append(resp.Steps, stepResponse{
			ID:           st.ID,
			StepNumber:   st.StepNumber,
			ApproverID:   st.ApproverID,
			ApproverName: st.ApproverName,
			ApproverRole: st.ApproverRole,
			Status:       st.Status,
			DecidedAt:    st.DecidedAt,
			Comment:      st.Comment,
		})
	}
	for _, c := range d.Comments {
		resp.Comments = append(resp.Comments, commentResponse{
			ID:        c.ID,
			UserID:    c.UserID,
			Text:      c.Text,
			CreatedAt: c.CreatedAt,
		})
	}
	return resp
}

type createRequestBody struct {
	TargetUserID  id.UserID      `json:"target_user_id"`
	SystemID      id.SystemID    `json:"system_id"`
	SubsystemID   id.SubsystemID `json:"subsystem_id"`
	RoleID        id.RoleID      `json:"role_id"`
	Type          request.Type   `json:"request_type"`
	Justification string         `json:"justification"`
	IsTemporary   bool           `json:"is_temporary"`
	ValidFrom     *time.Time     `json:"valid_from"`
	ValidUntil    *time.Time     `json:"valid_until"`
}

type decisionBody struct {
	Comment string `json:"comment"`
}

type commentBody struct {
	Text string `json:"text"`
}

type approvalItemResponse struct {
	Step    stepResponse    `json:"step"`
	Request requestResponse `json:"request"`
}

type chainStepBody struct {
	SystemID     id.SystemID `json:"system_id"`
	StepNumber   int         `json:"step_number"`
	ApproverID   id.UserID   `json:"approver_id"`
	ApproverRole string      `json:"approver_role"`
}

type chainStepResponse struct {
	ID           int64       `json:"id"`
	SystemID     id.SystemID `json:"system_id"`
	StepNumber   int         `json:"step_number"`
	ApproverID   id.UserID   `json:"approver_id"`
	ApproverRole string      `json:"approver_role,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

func toChainStepResponse(step request.ChainStep) chainStepResponse {
	return chainStepResponse{
		ID:           step.ID,
		SystemID:     step.SystemID,
		StepNumber:   step.StepNumber,
		ApproverID:   step.ApproverID,
		ApproverRole: step.ApproverRole,
		CreatedAt:    step.CreatedAt,
	}
}
