/*
Package expr evaluates dynamic timeout expressions.

This is a text-execution capability: an expression is arbitrary Lua code run
in-process. It must only ever receive trusted input, never values that come
from users of the program. No sandboxing is attempted beyond not opening the
io, os, package and debug libraries.

An expression is evaluated as the right-hand side of a Lua return statement,
with four globals bound:

	wrapped   table with the callable name: wrapped.name
	instance  the receiver converted to a table (nil when absent)
	args      positional arguments, 1-based: args[1]
	kwargs    keyword arguments: kwargs.max_time or kwargs["max_time"]

Struct fields are reachable by their Go name and by their json tag name, so
both instance.X and instance.x work for a field X tagged `json:"x"`.

The result must be a non-negative number of seconds.

	secs, err := expr.Eval(ctx, "instance.x * 2.5 + 1", expr.Bindings{Instance: svc})
*/
package expr
