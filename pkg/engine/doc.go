// Package engine runs the two-phase patch workflow.
//
// # Overview
//
// A patch script is planned, confirmed and applied:
//
//  1. Plan - Parse the script against the operation registry, evaluate plan
//     policies and store the result as the target's PendingPatch together
//     with a short confirmation code.
//  2. Apply - Check the gates (a patch exists, it has not expired, the code
//     matches, destructive actions are allowed), consume the patch and run
//     its actions in script order.
//
// Each target has at most one pending patch. Planning again replaces it;
// Cancel discards it. A patch runs at most once.
//
// # Execution
//
// The Executor runs actions one after another. A failed, unknown or
// panicking handler produces a failed ActionResult and the batch moves on.
// Handlers run on a context detached from the caller's cancellation.
//
// # Errors
//
// Errors are classified EngineError values. Gate rejections can be tested
// with errors.Is against ErrNoPendingPatch, ErrPatchExpired, ErrInvalidCode
// and ErrDestructiveBlocked. A script with errors yields a
// *PlanRejectedError holding the first diagnostics and the total count.
//
// # Storage
//
// PlanStore and Recorder are interfaces. MemoryStore keeps patches in
// process; package stores provides a SQLite implementation of both.
package engine
