// Package http exposes the annotation services over HTTP with basic
// authentication.
//
// Every endpoint requires credentials, except that a client whose address has
// a live session is admitted without re-sending them:
//   - GET /segments?before=&after=&limit=: one page of segments in identifier
//     order. Repeated find parameters look up specific segments instead.
//   - GET /segments/count?start=: [segments after start, total segments].
//   - GET /segments/{id}?annotator=: {"signals","annotation"} for one annotator,
//     defaulting to the caller.
//   - PUT /segments/{id}/annotations/{username}: body {"label","confidence",
//     "comments"}; stores the annotation and advances the campaign pointer.
//   - GET /annotators, GET /annotators/me: annotator profiles with campaigns.
//   - GET /classes: the accepted label vocabulary.
//   - POST /admin/annotators, POST /admin/annotators/{username}/password,
//     PUT /admin/annotators/{username}/campaign,
//     POST /admin/annotators/{username}/campaign/segments and
//     POST /admin/campaigns (CSV upload): administrator operations.
//
// Errors are JSON objects {"error_code","message","errors"} where error_code is
// the application error kind.
package http
