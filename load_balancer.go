package main

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const healthCheckPath = "/healthz"

type LoadBalancerArgs struct {
	network           *Network
	targetPort        int
	deletionProtected bool
}

// LoadBalancer is the public entry point of the container service: an ALB,
// its security group, a target group and an HTTP listener.
type LoadBalancer struct {
	sg          *ec2.SecurityGroup
	alb         *lb.LoadBalancer
	targetGroup *lb.TargetGroup
	listener    *lb.Listener

	DNSName   pulumi.StringOutput
	ZoneID    pulumi.StringOutput
	ArnSuffix pulumi.StringOutput
	URL       pulumi.StringOutput
}

func NewLoadBalancer(ctx *pulumi.Context, namer Namer, args LoadBalancerArgs) (*LoadBalancer, error) {
	lbs := &LoadBalancer{}
	var err error

	ingress, err := buildIngress(
		ingressFromCidrs(80, "HTTP from anywhere", "0.0.0.0/0"),
		ingressFromCidrs(443, "HTTPS from anywhere", "0.0.0.0/0"),
	)
	if err != nil {
		return nil, err
	}
	lbs.sg, err = ec2.NewSecurityGroup(ctx, namer.Name("alb-sg"), &ec2.SecurityGroupArgs{
		Name:                pulumi.String(namer.Name("alb-sg")),
		Description:         pulumi.String("Security group for Application Load Balancer"),
		VpcId:               args.network.VpcID,
		Ingress:             ingress,
		Egress:              egressAll(),
		RevokeRulesOnDelete: pulumi.Bool(true),
		Tags:                namer.Tags("alb-sg", nil),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating sg: %w", err)
	}

	lbs.alb, err = lb.NewLoadBalancer(ctx, namer.Name("alb"), &lb.LoadBalancerArgs{
		Name:                     pulumi.String(namer.Name("alb")),
		LoadBalancerType:         pulumi.String("application"),
		Internal:                 pulumi.Bool(false),
		SecurityGroups:           pulumi.StringArray{lbs.sg.ID()},
		Subnets:                  args.network.PublicSubnetIDs,
		EnableDeletionProtection: pulumi.Bool(args.deletionProtected),
		Tags:                     namer.Tags("alb", nil),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating load balancer: %w", err)
	}

	lbs.targetGroup, err = lb.NewTargetGroup(ctx, namer.Name("tg"), &lb.TargetGroupArgs{
		Name:       pulumi.String(namer.Name("tg")),
		Port:       pulumi.Int(args.targetPort),
		Protocol:   pulumi.String("HTTP"),
		TargetType: pulumi.String("ip"),
		VpcId:      args.network.VpcID,
		HealthCheck: &lb.TargetGroupHealthCheckArgs{
			Enabled:            pulumi.Bool(true),
			Path:               pulumi.String(healthCheckPath),
			Port:               pulumi.String("traffic-port"),
			Protocol:           pulumi.String("HTTP"),
			Matcher:            pulumi.String("200"),
			HealthyThreshold:   pulumi.Int(2),
			UnhealthyThreshold: pulumi.Int(3),
			Interval:           pulumi.Int(30),
			Timeout:            pulumi.Int(5),
		},
		Tags: namer.Tags("tg", nil),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating target group: %w", err)
	}

	lbs.listener, err = lb.NewListener(ctx, namer.Name("listener"), &lb.ListenerArgs{
		LoadBalancerArn: lbs.alb.Arn,
		Port:            pulumi.Int(80),
		Protocol:        pulumi.String("HTTP"),
		DefaultActions: lb.ListenerDefaultActionArray{
			lb.ListenerDefaultActionArgs{
				Type:           pulumi.String("forward"),
				TargetGroupArn: lbs.targetGroup.Arn,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating listener: %w", err)
	}

	lbs.DNSName = lbs.alb.DnsName
	lbs.ZoneID = lbs.alb.ZoneId
	lbs.ArnSuffix = lbs.alb.ArnSuffix
	lbs.URL = pulumi.Sprintf("http://%s", lbs.alb.DnsName)

	return lbs, nil
}
