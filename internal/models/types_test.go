package models

import (
	"testing"
	"time"
)

func TestAssignmentStateDerivation(t *testing.T) {
	now := time.Now()
	a := &TaskAssignment{}
	if a.State() != AssignmentPending {
		t.Fatalf("fresh assignment should be pending, got %s", a.State())
	}
	a.Start(now)
	if a.State() != AssignmentActive {
		t.Fatalf("started assignment should be active, got %s", a.State())
	}
	a.Finish([]byte(`{"ok":true}`), now.Add(time.Second))
	if a.State() != AssignmentCompleted {
		t.Fatalf("finished assignment should be completed, got %s", a.State())
	}

	b := &TaskAssignment{}
	b.Start(now)
	b.Cancel(now.Add(time.Second))
	if b.State() != AssignmentCanceled {
		t.Fatalf("canceled assignment should be canceled, got %s", b.State())
	}
	if b.Results != nil {
		t.Fatalf("cancel must not attach results")
	}
	if b.FinishedTime.Before(*b.StartedTime) {
		t.Fatalf("finished before started")
	}
}

func TestAssignmentFilterStartedQuirk(t *testing.T) {
	now := time.Now()
	started := &TaskAssignment{StartedTime: &now}
	pending := &TaskAssignment{}

	for _, v := range []bool{true, false} {
		val := v
		f := AssignmentFilter{Started: &val}
		if !f.Matches(started) {
			t.Fatalf("started=%v must match a started assignment", v)
		}
		if f.Matches(pending) {
			t.Fatalf("started=%v must not match a pending assignment", v)
		}
	}
}

func TestAssignmentFilterFinishedAndCanceled(t *testing.T) {
	now := time.Now()
	completed := &TaskAssignment{StartedTime: &now, FinishedTime: &now}
	canceled := &TaskAssignment{StartedTime: &now, FinishedTime: &now, Canceled: true}
	active := &TaskAssignment{StartedTime: &now}

	truth, falsity := true, false
	if !(AssignmentFilter{Finished: &truth}).Matches(completed) {
		t.Fatalf("finished=true must match completed")
	}
	if (AssignmentFilter{Finished: &truth}).Matches(active) {
		t.Fatalf("finished=true must not match active")
	}
	if !(AssignmentFilter{Finished: &falsity}).Matches(active) {
		t.Fatalf("finished=false must match active")
	}
	if !(AssignmentFilter{Canceled: &truth}).Matches(canceled) {
		t.Fatalf("canceled=true must match canceled")
	}
	if (AssignmentFilter{Canceled: &truth}).Matches(completed) {
		t.Fatalf("canceled=true must not match completed")
	}
}

func TestEnumValidity(t *testing.T) {
	for tt := range TaskTypeNames {
		if !tt.Valid() {
			t.Fatalf("task type %q should be valid", tt)
		}
	}
	if TaskType("juggling").Valid() {
		t.Fatalf("unknown task type accepted")
	}
	for rt := range RatingTypeNames {
		if !rt.Valid() {
			t.Fatalf("rating type %q should be valid", rt)
		}
	}
	if RatingType("thumbs").Valid() {
		t.Fatalf("unknown rating type accepted")
	}
}
