/*
The core package contains the definitions of types shared by the supervisors of this library.
Contract statements that define the behavior of callables, call inputs and metrics are in this package.

# Func

Func is the type of every supervised callable. It receives a context, cancelled when the
caller stops waiting, and the Input of the call.

# Input and Call

Input holds the receiver (Instance), positional (Args) and keyword (Kwargs) arguments of
one invocation. Call binds a named Func to an Input. Names matter: a callable executed in an
isolated worker process is looked up by name on the other side.

# MetricRecorder

MetricRecorder is the interface that all Metrics must implement. It defines some behaviors that metrics
are expected to be.

# Metric

Metric is the base metric recorder type. It implements Observer, so it can be attached to a policy to
keep the last metric of each kind.
*/
package core
