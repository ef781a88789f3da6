// Package core defines the domain model shared by the threat engine.
//
// # Overview
//
// The core package provides:
//   - Threat model types (ThreatModel, Element, ElementKind)
//   - The attribute schema that rule conditions are checked against
//   - Rule, Threat, Mitigation and ThreatsCollection
//   - Ordered enumerations (ThreatRisk, MitigationStatus)
//   - The error taxonomy surfaced at the process boundary
//
// Types in this package carry no behaviour beyond validation and lookups.
// Evaluation lives in package detect; loading lives in package provider.
package core
