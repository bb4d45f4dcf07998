/*
Package process runs a callable in an isolated worker process and bounds it
with a deadline.

The worker is the current executable started again with PRAZO_WORKER set.
It finds the callable by name, so every callable meant to run in a worker must
be registered before Init is called, typically from package-level variables or
init functions:

	func init() {
		process.Register("reports.build", buildReport)
		process.RegisterType(ReportRequest{})
	}

	func main() {
		process.Init()
		...
	}

Test binaries do the same from TestMain.

# Protocol

The supervisor writes the request (callable name, call id and Input) gob
encoded on the worker's stdin, and reads frames from a one way pipe handed to
the worker as file descriptor 3: an optional ready frame followed by exactly
one outcome frame. Both ends close the pipe when the call ends.

# Values

Arguments, receiver, results and errors cross the boundary with encoding/gob.
Concrete types stored in interfaces must be registered with RegisterType.
Errors keep their identity when their type is registered, or when they are
sentinels registered with RegisterError; anything else arrives as a
*RemoteError carrying the original type name and message.

# Cancellation

When the deadline expires the worker receives SIGTERM and, if it has not
exited after the join timeout, SIGKILL. SIGTERM cancels the context handed to
the callable, so workers it started through a Supervisor are terminated in
turn; the worker then exits within TerminateGrace. Anything else it opened is
not released; only the pipe owned by the supervisor is guaranteed closed.

The call id of a supervised call travels to the callable's context, where
CallID reads it. Nested calls without their own id inherit it.
*/
package process
