package main

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/dynamodb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	statsHashKey = "stat_key"
	statsTTLAttr = "expires_at"

	BillingProvisioned   = "PROVISIONED"
	BillingPayPerRequest = "PAY_PER_REQUEST"
)

var dataStoreActions = []string{
	"dynamodb:GetItem",
	"dynamodb:PutItem",
	"dynamodb:UpdateItem",
	"dynamodb:DeleteItem",
	"dynamodb:Query",
	"dynamodb:Scan",
}

type DataStoreArgs struct {
	BillingMode string
	// Capacity applies to provisioned billing only.
	Capacity int
	Hardened bool
}

// dataStoreArgsFor picks billing and hardening for the stack's tier and
// environment.
func dataStoreArgsFor(cfg AppConfig) DataStoreArgs {
	args := DataStoreArgs{
		BillingMode: BillingProvisioned,
		Capacity:    5,
		Hardened:    cfg.Hardened(),
	}
	if cfg.Tier == TierEnterprise {
		args.BillingMode = BillingPayPerRequest
		args.Capacity = 0
	}
	return args
}

// DataStore is the DynamoDB table holding QR generation counters.
type DataStore struct {
	table *dynamodb.Table

	TableName pulumi.StringOutput
	TableArn  pulumi.StringOutput
}

func NewDataStore(ctx *pulumi.Context, namer Namer, args DataStoreArgs) (*DataStore, error) {
	var err error
	ds := &DataStore{}

	tableArgs := &dynamodb.TableArgs{
		Name:        pulumi.String(namer.Name("qr-stats")),
		BillingMode: pulumi.String(args.BillingMode),
		HashKey:     pulumi.String(statsHashKey),
		Attributes: dynamodb.TableAttributeArray{
			dynamodb.TableAttributeArgs{
				Name: pulumi.String(statsHashKey),
				Type: pulumi.String("S"),
			},
		},
		Ttl: &dynamodb.TableTtlArgs{
			AttributeName: pulumi.String(statsTTLAttr),
			Enabled:       pulumi.Bool(true),
		},
		Tags: namer.Tags("qr-stats", nil),
	}
	switch args.BillingMode {
	case BillingProvisioned:
		if args.Capacity < 1 {
			return nil, fmt.Errorf("provisioned table needs a positive capacity, got %d", args.Capacity)
		}
		tableArgs.ReadCapacity = pulumi.Int(args.Capacity)
		tableArgs.WriteCapacity = pulumi.Int(args.Capacity)
	case BillingPayPerRequest:
	default:
		return nil, fmt.Errorf("unknown billing mode %q", args.BillingMode)
	}
	if args.Hardened {
		tableArgs.PointInTimeRecovery = &dynamodb.TablePointInTimeRecoveryArgs{
			Enabled: pulumi.Bool(true),
		}
		tableArgs.ServerSideEncryption = &dynamodb.TableServerSideEncryptionArgs{
			Enabled: pulumi.Bool(true),
		}
	}

	ds.table, err = dynamodb.NewTable(ctx, namer.Name("qr-stats"), tableArgs)
	if err != nil {
		return nil, fmt.Errorf("Error creating table: %w", err)
	}
	ds.TableName = ds.table.Name
	ds.TableArn = ds.table.Arn

	return ds, nil
}

// AccessPolicy is the inline policy document granting item access to the table.
func (ds *DataStore) AccessPolicy() pulumi.StringOutput {
	return pulumi.JSONMarshal(map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []interface{}{
			map[string]interface{}{
				"Effect":   "Allow",
				"Action":   dataStoreActions,
				"Resource": ds.TableArn,
			},
		},
	})
}
