package main

// Driver defaults. The simulation itself is configured by the route and cars
// JSON files; these only shape how the headless run is stepped and reported.
const (
	defaultDT             = 0.1
	defaultSampleInterval = 1.0
	progressInterval      = 60.0
	defaultDuration       = 300.0
)
