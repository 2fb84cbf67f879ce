// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Every Lambda in the project needs some subset of: AWS config, S3, DynamoDB,
// SSM parameter fetch, and startup logging. This package extracts the common
// init patterns so each Lambda's init() is a short composition of helpers.
package lambdaboot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/instagram-publisher/internal/credentials"
	"github.com/fpang/instagram-publisher/internal/instagram"
	"github.com/fpang/instagram-publisher/internal/logging"
	"github.com/fpang/instagram-publisher/internal/progress"
	"github.com/fpang/instagram-publisher/internal/schedule"
)

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds S3 client, presigner, and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client, presigner, and reads the bucket name from the
// given environment variable. Fatals if the env var is empty.
func InitS3(cfg aws.Config, bucketEnvVar string) S3Clients {
	client := s3.NewFromConfig(cfg)
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Fatal().Str("envVar", bucketEnvVar).Msg("Bucket environment variable is required")
	}
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucket,
	}
}

// InitProgressStore creates the DynamoDB publish-progress store from the
// given config and table name environment variable. Fatals if the env var
// is empty.
func InitProgressStore(cfg aws.Config, tableEnvVar string) *progress.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Fatal().Str("envVar", tableEnvVar).Msg("DynamoDB table environment variable is required")
	}
	ddbClient := dynamodb.NewFromConfig(cfg)
	return progress.NewDynamoStore(ddbClient, tableName)
}

// InitScheduleStore creates the DynamoDB scheduled-post store. Both stores
// share a single table, so this reuses the same env var as the progress store.
func InitScheduleStore(cfg aws.Config, tableEnvVar string) *schedule.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Fatal().Str("envVar", tableEnvVar).Msg("DynamoDB table environment variable is required")
	}
	ddbClient := dynamodb.NewFromConfig(cfg)
	return schedule.NewDynamoStore(ddbClient, tableName)
}

// LoadInstagramCreds fetches the Instagram access token and user ID from the
// environment, falling back to SSM Parameter Store. The returned client is
// bound to the provider and reads the current token per call. Non-fatal: when
// credentials are missing the provider starts empty and the API responds with
// a clear auth error instead of crashing at startup.
func LoadInstagramCreds(ssmClient *ssm.Client) (*instagram.Client, *credentials.EnvProvider) {
	igAccessToken := os.Getenv("INSTAGRAM_ACCESS_TOKEN")
	igUserID := os.Getenv("INSTAGRAM_USER_ID")

	if igAccessToken == "" || igUserID == "" {
		tokenParam := logging.EnvOrDefault("SSM_INSTAGRAM_TOKEN_PARAM", "/instagram-publisher/prod/instagram-access-token")
		userIDParam := logging.EnvOrDefault("SSM_INSTAGRAM_USER_ID_PARAM", "/instagram-publisher/prod/instagram-user-id")

		ssmStart := time.Now()
		tokenResult, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
			Name:           &tokenParam,
			WithDecryption: aws.Bool(true),
		})
		if err == nil {
			igAccessToken = *tokenResult.Parameter.Value
			log.Debug().Str("param", tokenParam).Dur("elapsed", time.Since(ssmStart)).Msg("Instagram token loaded from SSM")
		} else {
			log.Warn().Err(err).Str("param", tokenParam).Msg("Instagram access token not found in SSM — publishing disabled")
		}

		ssmStart = time.Now()
		userIDResult, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
			Name:           &userIDParam,
			WithDecryption: aws.Bool(false),
		})
		if err == nil {
			igUserID = *userIDResult.Parameter.Value
			log.Debug().Str("param", userIDParam).Dur("elapsed", time.Since(ssmStart)).Msg("Instagram user ID loaded from SSM")
		} else {
			log.Warn().Err(err).Str("param", userIDParam).Msg("Instagram user ID not found in SSM — publishing disabled")
		}
	}

	// The client reads its token from the provider on every call, so a
	// token refreshed mid-lifetime or an account connected via OAuth is
	// used without rebuilding the client.
	if igAccessToken != "" && igUserID != "" {
		provider := credentials.NewEnvProvider(igAccessToken, igUserID, tokenExpiry())
		log.Info().Str("userId", igUserID).Msg("Instagram client initialized")
		return instagram.NewClientWithCredentials(provider), provider
	}
	log.Warn().Msg("Instagram credentials not configured — publishing disabled")
	provider := credentials.NewEnvProvider("", "", time.Time{})
	return instagram.NewClientWithCredentials(provider), provider
}

// LoadOAuthApp reads the Instagram OAuth app settings used by the
// account connect operation. The app secret falls back to SSM when not
// set in the environment. Empty values disable connect; publishing with
// pre-provisioned tokens is unaffected.
func LoadOAuthApp(ssmClient *ssm.Client) (appID, appSecret, redirectURI string) {
	appID = os.Getenv("INSTAGRAM_APP_ID")
	appSecret = os.Getenv("INSTAGRAM_APP_SECRET")
	redirectURI = os.Getenv("INSTAGRAM_REDIRECT_URI")

	if appID != "" && appSecret == "" {
		param := logging.EnvOrDefault("SSM_INSTAGRAM_APP_SECRET_PARAM", "/instagram-publisher/prod/instagram-app-secret")
		result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
			Name:           &param,
			WithDecryption: aws.Bool(true),
		})
		if err == nil {
			appSecret = *result.Parameter.Value
			log.Debug().Str("param", param).Msg("Instagram app secret loaded from SSM")
		} else {
			log.Warn().Err(err).Str("param", param).Msg("Instagram app secret not found in SSM — account connect disabled")
		}
	}
	return appID, appSecret, redirectURI
}

// tokenExpiry reads the optional INSTAGRAM_TOKEN_EXPIRES_AT env var
// (RFC 3339). A zero time disables proactive token refresh.
func tokenExpiry() time.Time {
	raw := os.Getenv("INSTAGRAM_TOKEN_EXPIRES_AT")
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		log.Warn().Str("value", raw).Msg("Invalid INSTAGRAM_TOKEN_EXPIRES_AT — token refresh disabled")
		return time.Time{}
	}
	return t
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
