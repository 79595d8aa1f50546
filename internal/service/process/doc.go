// Package process finds running cores in the process table and (re)starts them.
//
// Cores are started as session leaders under the configured group id with
// their output appended to the shared log, then receive an architecture
// dependent open-file limit.
package process
