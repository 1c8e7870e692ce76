package main

import (
	"errors"
	"fmt"
	"net"

	ec2_classic "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-awsx/sdk/v2/go/awsx/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

var errNoSubnets = errors.New("network placement has no eligible subnets")

// Placement is the network a component attaches its interfaces to.
type Placement struct {
	VpcID     pulumi.StringInput
	SubnetIDs pulumi.StringArrayInput
	CidrBlock string
}

type NetworkArgs struct {
	CidrBlock         string
	AvailabilityZones int
	NatStrategy       string
}

type Network struct {
	vpc *ec2.Vpc

	cidrBlock        string
	VpcID            pulumi.StringOutput
	PublicSubnetIDs  pulumi.StringArrayOutput
	PrivateSubnetIDs pulumi.StringArrayOutput
}

func NewNetwork(ctx *pulumi.Context, namer Namer, args NetworkArgs) (*Network, error) {
	var err error
	network := &Network{cidrBlock: args.CidrBlock}

	strategy, err := natGatewayStrategy(args.NatStrategy)
	if err != nil {
		return nil, err
	}
	cidr := args.CidrBlock
	azs := args.AvailabilityZones
	as := ec2.SubnetAllocationStrategyAuto
	network.vpc, err = ec2.NewVpc(ctx, namer.Name("vpc"), &ec2.VpcArgs{
		CidrBlock:                 &cidr,
		NumberOfAvailabilityZones: &azs,
		EnableDnsHostnames:        pulumi.Bool(true),
		EnableDnsSupport:          pulumi.Bool(true),
		NatGateways:               &ec2.NatGatewayConfigurationArgs{Strategy: strategy},
		SubnetStrategy:            &as,
		Tags:                      namer.Tags("vpc", nil),
	})
	if err != nil {
		return nil, fmt.Errorf("Error creating vpc: %w", err)
	}
	network.VpcID = network.vpc.VpcId
	network.PublicSubnetIDs = network.vpc.PublicSubnetIds
	network.PrivateSubnetIDs = network.vpc.PrivateSubnetIds

	return network, nil
}

// PrivatePlacement places a component in the private subnets of the network.
func (n *Network) PrivatePlacement() *Placement {
	return &Placement{
		VpcID:     n.VpcID,
		SubnetIDs: n.PrivateSubnetIDs,
		CidrBlock: n.cidrBlock,
	}
}

func natGatewayStrategy(s string) (ec2.NatGatewayStrategy, error) {
	switch s {
	case NatNone:
		return ec2.NatGatewayStrategyNone, nil
	case NatSingle:
		return ec2.NatGatewayStrategySingle, nil
	case NatOnePerAz:
		return ec2.NatGatewayStrategyOnePerAz, nil
	}
	return "", fmt.Errorf("unknown nat strategy %q", s)
}

// DefaultPlacement resolves the account's default VPC and all of its subnets.
func DefaultPlacement(ctx *pulumi.Context) (*Placement, error) {
	vpc, err := ec2_classic.LookupVpc(ctx, &ec2_classic.LookupVpcArgs{
		Default: pulumi.BoolRef(true),
	})
	if err != nil {
		return nil, fmt.Errorf("Error looking up default vpc: %w", err)
	}
	subnets, err := ec2_classic.GetSubnets(ctx, &ec2_classic.GetSubnetsArgs{
		Filters: []ec2_classic.GetSubnetsFilter{
			{Name: "vpc-id", Values: []string{vpc.Id}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Error looking up subnets of %s: %w", vpc.Id, err)
	}
	ids, err := requireSubnets(subnets.Ids)
	if err != nil {
		return nil, fmt.Errorf("default vpc %s: %w", vpc.Id, err)
	}
	return &Placement{
		VpcID:     pulumi.String(vpc.Id),
		SubnetIDs: pulumi.ToStringArray(ids),
		CidrBlock: vpc.CidrBlock,
	}, nil
}

func requireSubnets(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, errNoSubnets
	}
	return ids, nil
}

// subnetsOf defers the subnet check for placements whose ids are not known
// until the network is provisioned.
func subnetsOf(p *Placement) pulumi.StringArrayOutput {
	return p.SubnetIDs.ToStringArrayOutput().ApplyT(requireSubnets).(pulumi.StringArrayOutput)
}

func egressAll() ec2_classic.SecurityGroupEgressArray {
	return ec2_classic.SecurityGroupEgressArray{
		ec2_classic.SecurityGroupEgressArgs{
			CidrBlocks:  pulumi.ToStringArray([]string{"0.0.0.0/0"}),
			Description: pulumi.String("Egress all"),
			Protocol:    pulumi.String("-1"),
			FromPort:    pulumi.Int(0),
			ToPort:      pulumi.Int(0),
		},
	}
}

// ingressRule is the local shape of an allow rule before it is handed to the
// provider; keeping it plain lets the bounds be checked up front.
type ingressRule struct {
	description string
	port        int
	cidrs       []string
	groups      []pulumi.StringInput
}

func validateIngress(rules ...ingressRule) error {
	for _, r := range rules {
		if r.port < 1 || r.port > 65535 {
			return fmt.Errorf("ingress %q: port %d out of range", r.description, r.port)
		}
		if len(r.cidrs) == 0 && len(r.groups) == 0 {
			return fmt.Errorf("ingress %q: no source", r.description)
		}
		for _, cidr := range r.cidrs {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("ingress %q: source %q is not a cidr block", r.description, cidr)
			}
		}
	}
	return nil
}

func buildIngress(rules ...ingressRule) (ec2_classic.SecurityGroupIngressArray, error) {
	if err := validateIngress(rules...); err != nil {
		return nil, err
	}
	out := ec2_classic.SecurityGroupIngressArray{}
	for _, r := range rules {
		args := ec2_classic.SecurityGroupIngressArgs{
			Description: pulumi.String(r.description),
			FromPort:    pulumi.Int(r.port),
			ToPort:      pulumi.Int(r.port),
			Protocol:    pulumi.String("tcp"),
		}
		if len(r.cidrs) > 0 {
			args.CidrBlocks = pulumi.ToStringArray(r.cidrs)
		}
		if len(r.groups) > 0 {
			sgs := pulumi.StringArray{}
			for _, g := range r.groups {
				sgs = append(sgs, g)
			}
			args.SecurityGroups = sgs
		}
		out = append(out, args)
	}
	return out, nil
}

func ingressFromGroups(port int, description string, sg ...*ec2_classic.SecurityGroup) ingressRule {
	groups := make([]pulumi.StringInput, 0, len(sg))
	for i := range sg {
		groups = append(groups, sg[i].ID())
	}
	return ingressRule{description: description, port: port, groups: groups}
}

func ingressFromCidrs(port int, description string, cidrs ...string) ingressRule {
	return ingressRule{description: description, port: port, cidrs: cidrs}
}
