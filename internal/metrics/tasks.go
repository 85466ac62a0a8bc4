package metrics

import "time"

// TaskCompleted records a successful maintenance run and how many items it touched.
func TaskCompleted(task string, duration time.Duration, items int64) {
	TaskRunsTotal.WithLabelValues(task, "completed").Inc()
	TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
	if items > 0 {
		TaskItemsTotal.WithLabelValues(task).Add(float64(items))
	}
}

// TaskFailed records a failed maintenance run.
func TaskFailed(task string) {
	TaskRunsTotal.WithLabelValues(task, "failed").Inc()
}
