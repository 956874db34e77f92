package service

import "errors"

// ErrAssignmentNotFound indicates the assignment was not located.
var ErrAssignmentNotFound = errors.New("assignment not found")

// ErrSubmissionNotFound indicates the submission was not located.
var ErrSubmissionNotFound = errors.New("submission not found")

// ErrJobNotFound indicates the grading job was not located.
var ErrJobNotFound = errors.New("grading job not found")

// ErrRubricNotFound indicates the grading guide was not located.
var ErrRubricNotFound = errors.New("grading guide not found")

// ErrResultNotFound indicates the grade result was not located.
var ErrResultNotFound = errors.New("grade result not found")

// ErrNoApprovedRubric indicates a job was asked to grade without an APPROVED
// grading guide. A job must never grade against a non-approved guide.
var ErrNoApprovedRubric = errors.New("approved grading guide not found for this assignment")

// ErrNoGradableContent indicates a submission offers neither text nor images.
var ErrNoGradableContent = errors.New("submission has no text or images to grade")

// ErrRubricNotDraft indicates an approval attempt on a non-DRAFT guide.
var ErrRubricNotDraft = errors.New("only DRAFT grading guides can be approved")

// ErrRubricNotGenerating indicates a cancel attempt on a guide that is not
// being generated.
var ErrRubricNotGenerating = errors.New("grading guide is not generating")

// ErrRubricInUse indicates a delete attempt while jobs are still queued or
// running against the guide.
var ErrRubricInUse = errors.New("grading guide has active jobs")
