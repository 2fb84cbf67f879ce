// Package main provides the Lambda entry point for the publish API.
//
// It serves the same routes as publish-web behind API Gateway, using S3
// for media storage, DynamoDB for publish progress and scheduled posts,
// and SSM Parameter Store for Instagram credentials.
//
// Endpoints:
//
//	POST /api/post-from-media   — crop, upload, and publish stored media
//	POST /api/post-now          — publish pre-cropped image URLs
//	GET  /api/post-status       — poll an in-flight publish session
//	POST /api/schedule-post     — queue a post for future dispatch
//	GET  /api/scheduled-posts   — list queued posts
//	POST /api/connect           — exchange an OAuth code for a long-lived token
//	GET  /api/health            — health check
//
// Memory: 256 MB
// Timeout: 1 minute
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/fpang/instagram-publisher/internal/api"
	"github.com/fpang/instagram-publisher/internal/lambdaboot"
	"github.com/fpang/instagram-publisher/internal/logging"
	"github.com/fpang/instagram-publisher/internal/mediastore"
	"github.com/fpang/instagram-publisher/internal/preparer"
	"github.com/fpang/instagram-publisher/internal/publisher"
)

var svc *api.Service

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
	svc = api.NewService(media, prep, orch, scheduleStore, creds)
	appID, appSecret, redirectURI := lambdaboot.LoadOAuthApp(aws.SSM)
	if appID != "" && appSecret != "" {
		svc = svc.WithOAuth(api.OAuthConfig{AppID: appID, AppSecret: appSecret, RedirectURI: redirectURI})
	}

	lambdaboot.StartupLog("publish-lambda", initStart).
		S3Bucket("mediaBucket", s3s.Bucket).
		DynamoTable("sessions", os.Getenv("DYNAMO_TABLE_NAME")).
		SSMParam("instagramToken", logging.EnvOrDefault("SSM_INSTAGRAM_TOKEN_PARAM", "/instagram-publisher/prod/instagram-access-token")).
		SSMParam("instagramUserId", logging.EnvOrDefault("SSM_INSTAGRAM_USER_ID_PARAM", "/instagram-publisher/prod/instagram-user-id")).
		Feature("instagram", connected).
		Feature("oauth", appID != "" && appSecret != "").
		Log()
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/post-from-media", handlePostFromMedia(svc))
	mux.HandleFunc("/api/post-now", handlePostNow(svc))
	mux.HandleFunc("/api/post-status", handlePostStatus(svc))
	mux.HandleFunc("/api/schedule-post", handleSchedulePost(svc))
	mux.HandleFunc("/api/scheduled-posts", handleScheduledPosts(svc))
	mux.HandleFunc("/api/connect", handleConnect(svc))
	mux.HandleFunc("/api/health", handleHealth)

	adapter := httpadapter.NewV2(withMetrics(mux))
	lambda.Start(adapter.ProxyWithContext)
}
