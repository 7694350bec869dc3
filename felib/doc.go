/*Package felib exposes control of CAEN digitizers in Go via CAEN FELib.

The library models a digitizer as a tree of nodes (parameters, commands,
endpoints, channels...) addressed by slash-separated paths.  Open returns a
Digitizer holding the root handle; navigation from there yields Node values
that share the root's lifetime.  Closing the Digitizer invalidates every
node derived from it.

Acquisition data is read through an endpoint node.  SetReadDataFormat
compiles a list of Field descriptions into a FormatSet whose buffers are
filled in place by each Read call, so the hot loop performs no allocation.

The underlying CAEN_FELib_ReadData entry point is variadic and its
effective parameter list is fixed process-wide by the most recent
SetReadDataFormat on the same endpoint.  Concurrent Reads through one node
with different formats are therefore unsafe at the ABI level; callers must
serialize them.  This package does not attempt to hide that constraint.
*/
package felib
