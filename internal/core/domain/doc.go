// Package domain contains the value types shared by the releaser core: builds,
// stages, namespaces and the error taxonomy.
//
// All functions are pure (no I/O, no side effects).
//
//	b := domain.Build{Project: "agro", App: "portal", Stage: domain.StageBeta}
//	b.Key()       // "agro/portal@beta"
//	b.Namespace() // "agro_portal_beta"
package domain
