// Package main provides the Lambda entry point for scheduled-post dispatch.
//
// EventBridge invokes it on a fixed schedule (every minute). Each
// invocation loads due posts from DynamoDB, prepares their assets from
// S3 using the stored crop windows, and runs the publish flow to
// completion, emitting a dispatch outcome event per post when an event
// bus is configured.
//
// Memory: 256 MB
// Timeout: 5 minutes
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/rs/zerolog/log"

	"github.com/fpang/instagram-publisher/internal/lambdaboot"
	"github.com/fpang/instagram-publisher/internal/logging"
	"github.com/fpang/instagram-publisher/internal/mediastore"
	"github.com/fpang/instagram-publisher/internal/metrics"
	"github.com/fpang/instagram-publisher/internal/preparer"
	"github.com/fpang/instagram-publisher/internal/publisher"
	"github.com/fpang/instagram-publisher/internal/schedule"
)

var coldStart = true

var dispatcher *schedule.Dispatcher

func init() {
	initStart := time.Now()
	logging.Init()

	aws := lambdaboot.InitAWS()
	s3s := lambdaboot.InitS3(aws.Config, "MEDIA_BUCKET_NAME")
	progressStore := lambdaboot.InitProgressStore(aws.Config, "DYNAMO_TABLE_NAME")
	scheduleStore := lambdaboot.InitScheduleStore(aws.Config, "DYNAMO_TABLE_NAME")
	igClient, creds := lambdaboot.LoadInstagramCreds(aws.SSM)
	_, connected := creds.AccessToken()

	media := mediastore.NewS3Store(s3s.Client, s3s.Presigner, s3s.Bucket)
	prep := preparer.New(media)
	orch := publisher.New(progressStore, igClient)

	dispatcher = schedule.NewDispatcher(scheduleStore, prep, orch)
	eventBus := os.Getenv("EVENT_BUS_NAME")
	if eventBus != "" {
		dispatcher = dispatcher.WithEvents(eventbridge.NewFromConfig(aws.Config), eventBus)
	}

	lambdaboot.StartupLog("schedule-dispatcher-lambda", initStart).
		S3Bucket("mediaBucket", s3s.Bucket).
		DynamoTable("sessions", os.Getenv("DYNAMO_TABLE_NAME")).
		EventBus("dispatchOutcomes", eventBus).
		Feature("instagram", connected).
		Feature("events", eventBus != "").
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "schedule-dispatcher-lambda").Msg("Cold start — first invocation")
	}

	runStart := time.Now()
	count, err := dispatcher.DispatchDue(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Dispatch run failed")
		return err
	}

	metrics.New("InstagramPublisher").
		Dimension("Operation", "DispatchDue").
		Metric("DispatchDurationMs", float64(time.Since(runStart).Milliseconds()), metrics.UnitMilliseconds).
		Metric("PostsDispatched", float64(count), metrics.UnitCount).
		Flush()

	log.Info().Int("dispatched", count).Dur("elapsed", time.Since(runStart)).Msg("Dispatch run complete")
	return nil
}
