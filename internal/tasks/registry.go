package tasks

// Task names as referenced by scheduler configuration.
const (
	TaskIdempotencySweep = "idempotency_sweep"
	TaskSQLMaintenance   = "sql_maintenance"
)

// RegisterAllTasks returns the map of known task names to task functions.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	return map[string]ScheduledTaskFunc{
		TaskIdempotencySweep: newIdempotencySweepTask(deps),
		TaskSQLMaintenance:   newSQLMaintenanceTask(deps),
	}
}
