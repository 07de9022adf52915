// Package model holds the download domain types shared by the engine, the
// session coordinator and the progress aggregator.
package model
