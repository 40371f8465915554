package metrics

/*
Labels and so on for metrics used in the director.
*/

const (
	LabelDeployment = "deployment"
	LabelProvider   = "provider"
	LabelSuccess    = "success"
	LabelTaskType   = "task_type"

	// Labels for reconciliation metrics
	LabelAction = "action"
	LabelStage  = "stage"
)
