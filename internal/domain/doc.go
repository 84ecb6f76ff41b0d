// Package domain models the trigger-monitoring data served by the IRI
// Forecast-based Financing (FbF) maproom.
//
// # Data Source
//
// Predictor, predictand and skill statistics are computed upstream (VIIRS
// NDVI/EVI composites, CHIRPS SPI, forecast probabilities of non-exceedance)
// and published per maproom at https://iridl.ldeo.columbia.edu/fbfmaproom2/.
// This module never recomputes them. SPI values are consumed as published; the
// upstream does not gamma-transform precipitation before standardizing, so
// SPI here carries the same normality approximation.
//
// # Maproom Conventions
//
// Admin levels ("modes"):
//
//	Integer keys starting at 0 for the whole country, then 1 for the first
//	administrative division, 2 for the second, and so on. Each configured level
//	declares its display name; the parent of level i is level i-1.
//
// Regions endpoint:
//
//	GET {base}/regions?country={maproom}&level={mode}
//	{"regions": [{"key": 12, "label": "Androy", "parent": 3}, ...]}
//	Keys arrive as JSON numbers or numeric strings. "parent" is optional.
//
// Export endpoint:
//
//	GET {base}/{maproom}/export?season=season1&issue_month0=9&freq=30
//	    &predictor=pnep&predictand=bad-year&include_upcoming=false&mode=2&region=47
//	{"threshold": 32.1, "skill": {"accuracy": 0.71, ...},
//	 "history": [{"year": 2023, "pnep": 35.4, "bad-year": null}, ...]}
//	History columns are named after the predictor and predictand codes.
//
// Issue months are zero-based (0 = January). Frequencies are percentages of
// years the programme intends to act in.
//
// # Trigger Evaluation
//
// A unit triggers when its predictor value is strictly greater than the
// upstream threshold. Country working groups may agree a threshold protocol
// adjustment that is added to the upstream threshold; rows carry both
// decisions and a categorical [State]:
//
//	not-triggered   neither threshold crossed
//	triggered       both thresholds crossed
//	borderline      exactly one of the two thresholds crossed
package domain
