// Package models contains the GORM persistence models for the canonical
// entity store. Models are kept separate from domain entities so schema
// concerns (column types, indexes, JSON payload encoding) never leak
// into the domain layer; each model carries ToDomain/FromDomain
// conversions.
package models
