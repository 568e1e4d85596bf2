package diagnose

import (
	"reflect"
	"testing"

	"github.com/dshills/calltriage/internal/schema"
)

func status(action string, state schema.StepState) schema.StepStatus {
	return schema.StepStatus{Step: schema.ExpectedStep{ActionName: action}, State: state}
}

func TestRoute(t *testing.T) {
	cases := []struct {
		name     string
		statuses []schema.StepStatus
		apiErrs  []string
		rate     float64
		want     []string
	}{
		{
			name:     "clean run routes nowhere",
			statuses: []schema.StepStatus{status(schema.ActionPatientTool, schema.StepCompleted)},
			rate:     1,
			want:     nil,
		},
		{
			name:     "failed patient tool",
			statuses: []schema.StepStatus{status(schema.ActionPatientTool, schema.StepFailed)},
			rate:     1,
			want:     []string{"record-management"},
		},
		{
			name:     "missing patient tool",
			statuses: []schema.StepStatus{status(schema.ActionPatientTool, schema.StepMissing)},
			rate:     1,
			want:     []string{"record-management"},
		},
		{
			name:     "missing scheduling tool only",
			statuses: []schema.StepStatus{status(schema.ActionSchedulingTool, schema.StepMissing)},
			rate:     1,
			want:     []string{"scheduling"},
		},
		{
			name:    "unattributed api errors",
			apiErrs: []string{"observation o3 output carries an error signal"},
			rate:    1,
			want:    []string{"flow-orchestration"},
		},
		{
			name: "low completion rate with no other match",
			rate: 0.4,
			want: []string{"conversation-design"},
		},
		{
			name:     "low rate suppressed when another rule fires",
			statuses: []schema.StepStatus{status(schema.ActionSchedulingTool, schema.StepFailed)},
			rate:     0.2,
			want:     []string{"scheduling"},
		},
		{
			name: "rate at threshold does not fire",
			rate: 0.5,
			want: nil,
		},
		{
			name: "multiple rules in registry order",
			statuses: []schema.StepStatus{
				status(schema.ActionSchedulingTool, schema.StepFailed),
				status(schema.ActionPatientTool, schema.StepMissing),
			},
			apiErrs: []string{"err"},
			rate:    0.1,
			want:    []string{"flow-orchestration", "record-management", "scheduling"},
		},
		{
			name:     "other action failures do not route",
			statuses: []schema.StepStatus{status(schema.ActionCurrentDate, schema.StepFailed)},
			rate:     1,
			want:     nil,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Route(c.statuses, c.apiErrs, c.rate)
			if !reflect.DeepEqual(got, c.want) {
				t.Errorf("Route = %v, want %v", got, c.want)
			}
		})
	}
}
