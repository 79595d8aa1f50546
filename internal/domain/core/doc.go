// Package core contains the domain types of the core update and lifecycle subsystem.
//
// It defines the two managed core identities, release and asset metadata,
// downloaded artifacts, installation records, process handles and the error
// taxonomy shared by every service.
package core
