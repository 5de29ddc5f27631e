// Package incident holds the single active downtime incident: weighted vote
// aggregation on the Incident record, and the Registry that gates creation so
// at most one incident is active and routes reports and votes into it.
//
// Outbound work (posting, editing and deleting the incident message, paging)
// always happens after the registry has released its hold on the state.
package incident
