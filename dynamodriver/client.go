package dynamodriver

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// ClientConfig locates a DynamoDB endpoint.
type ClientConfig struct {
	Region   string
	Endpoint string // e.g. http://localhost:8000 for DynamoDB Local
}

// NewClient builds a DynamoDB client with credentials from the standard AWS
// environment variables.
func NewClient(cfg ClientConfig) *ddb.Client {
	opts := ddb.Options{
		Region:      cfg.Region,
		Credentials: aws.CredentialsProviderFunc(envCredentials),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return ddb.New(opts)
}

func envCredentials(context.Context) (aws.Credentials, error) {
	return aws.Credentials{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "Environment",
	}, nil
}
