package store

// SQL string constants grouped by entity, mirroring the teacher's
// internal/store/queries.go pattern of isolating raw SQL from the Go
// call sites that bind it.

const queryInsertTask = `
	INSERT INTO tasks (id, zone_name, operation, priority, status, depends_on, parent_task_id, metadata, created_by, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, current_timestamp)
`

const queryFindActiveMutexTask = `
	SELECT id, status FROM tasks
	WHERE zone_name = ? AND operation = ? AND status IN ('pending', 'running')
	LIMIT 1
`

const queryGetTask = `
	SELECT id, zone_name, operation, priority, status, depends_on, parent_task_id, metadata, created_by, created_at, started_at, completed_at, error_message, attempts
	FROM tasks WHERE id = ?
`

const queryDependencyStatus = `SELECT status FROM tasks WHERE id = ?`

// queryClaimCandidate selects the single highest-priority, oldest pending
// task that is not blocked by an unmet dependency and not blocked by a
// same-(zone,operation) mutex conflict, implementing §4.3.1's runnability
// rule and selection order.
const queryClaimCandidate = `
	SELECT t.id
	FROM tasks t
	WHERE t.status = 'pending'
	  AND (t.next_retry_at IS NULL OR t.next_retry_at <= current_timestamp)
	  AND (t.depends_on IS NULL OR EXISTS (
	        SELECT 1 FROM tasks d WHERE d.id = t.depends_on AND d.status = 'completed'
	      ))
	  AND NOT EXISTS (
	        SELECT 1 FROM tasks m
	        WHERE m.zone_name = t.zone_name AND m.operation = t.operation
	          AND m.status = 'running' AND m.id != t.id
	      )
	ORDER BY t.priority DESC, t.created_at ASC
	LIMIT 1
`

const queryClaimTask = `UPDATE tasks SET status = 'running', started_at = current_timestamp WHERE id = ? AND status = 'pending'`

const queryCompleteTask = `UPDATE tasks SET status = 'completed', completed_at = current_timestamp, error_message = '' WHERE id = ? AND status = 'running'`

const queryFailTask = `UPDATE tasks SET status = 'failed', completed_at = current_timestamp, error_message = ? WHERE id = ? AND status = 'running'`

const queryRetryTask = `UPDATE tasks SET status = 'pending', started_at = NULL, error_message = ?, attempts = attempts + 1, next_retry_at = ? WHERE id = ? AND status = 'running'`

const queryCancelTask = `UPDATE tasks SET status = 'cancelled', completed_at = current_timestamp WHERE id = ? AND status IN ('pending', 'running')`

const queryDirectDependents = `SELECT id FROM tasks WHERE depends_on = ? AND status = 'pending'`

const queryChildTasks = `SELECT status FROM tasks WHERE parent_task_id = ?`
