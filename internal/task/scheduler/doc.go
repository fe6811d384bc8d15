// Package scheduler runs recurring jobs on cron or fixed-interval triggers.
//
// A job that is still running when its next trigger fires is skipped.
// A job may return an error wrapped with Fatal to stop the owning process;
// such errors are delivered on Service.Fatal.
package scheduler
