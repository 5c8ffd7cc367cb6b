package services

import "time"

// timeNow is swapped out by tests that pin the clock.
var timeNow = time.Now
