package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/neotix/rentald/pkg/types"
)

// gpuInstanceMapping maps a GPU model to the EC2 instance type carrying it
var gpuInstanceMapping = map[string]string{
	"T4":   "g4dn.xlarge",
	"A100": "p4d.24xlarge",
	"A10G": "g5.2xlarge",
	"V100": "p3.2xlarge",
	"K80":  "p2.xlarge",
}

const defaultAMI = "ami-0c7217cdde317cfec" // Ubuntu 22.04 LTS with NVIDIA drivers

// EC2Config configures the spot-instance provisioner
type EC2Config struct {
	Region           string
	AMIID            string
	AvailabilityZone string
	ProvisionTimeout time.Duration
}

// DefaultEC2Config returns the production defaults
func DefaultEC2Config() EC2Config {
	return EC2Config{
		Region:           "us-east-1",
		AMIID:            defaultAMI,
		AvailabilityZone: "us-east-1a",
		ProvisionTimeout: DefaultProvisionTimeout,
	}
}

// EC2Provisioner provisions GPU instances as EC2 spot instances
type EC2Provisioner struct {
	client *ec2.Client
	cfg    EC2Config
}

// NewEC2Provisioner creates a provisioner using the ambient AWS credentials
func NewEC2Provisioner(ctx context.Context, cfg EC2Config) (*EC2Provisioner, error) {
	if cfg.Region == "" {
		cfg = DefaultEC2Config()
	}
	if cfg.ProvisionTimeout == 0 {
		cfg.ProvisionTimeout = DefaultProvisionTimeout
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &EC2Provisioner{
		client: ec2.NewFromConfig(awsCfg),
		cfg:    cfg,
	}, nil
}

// InstanceTypeFor resolves the EC2 instance type for a GPU configuration.
// Known models map directly; multi-GPU configurations scale the instance
// size; unknown models fall back on GPU memory.
func InstanceTypeFor(snapshot types.ConfigurationSnapshot) string {
	model := strings.TrimSpace(strings.TrimPrefix(snapshot.Model, "NVIDIA "))

	for gpu, instanceType := range gpuInstanceMapping {
		if !strings.EqualFold(gpu, model) {
			continue
		}
		if snapshot.Count > 1 {
			return scaleInstanceType(instanceType, snapshot.Count)
		}
		return instanceType
	}

	switch {
	case snapshot.MemoryGB >= 80:
		return "p4d.24xlarge"
	case snapshot.MemoryGB >= 32:
		return "p3.2xlarge"
	default:
		return "g4dn.xlarge"
	}
}

// scaleInstanceType multiplies the xlarge size factor by the GPU count,
// so g5.2xlarge with 4 GPUs becomes g5.8xlarge
func scaleInstanceType(instanceType string, count int) string {
	parts := strings.SplitN(instanceType, ".", 2)
	if len(parts) != 2 || !strings.HasSuffix(parts[1], "xlarge") {
		return instanceType
	}
	sizeStr := strings.TrimSuffix(parts[1], "xlarge")
	size := 1
	if sizeStr != "" {
		n, err := strconv.Atoi(sizeStr)
		if err != nil {
			return instanceType
		}
		size = n
	}
	return fmt.Sprintf("%s.%dxlarge", parts[0], size*count)
}

// Create launches a spot instance for the given configuration. The key
// pair named keyName is created fresh and its private key returned in
// the instance credentials.
func (p *EC2Provisioner) Create(ctx context.Context, snapshot types.ConfigurationSnapshot, keyName string) (*Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProvisionTimeout)
	defer cancel()

	instanceType := InstanceTypeFor(snapshot)

	keyMaterial, err := p.createKeyPair(ctx, keyName)
	if err != nil {
		return nil, classifyAWSError(err)
	}

	securityGroup, err := p.ensureSecurityGroup(ctx)
	if err != nil {
		p.deleteKeyPair(ctx, keyName)
		return nil, classifyAWSError(err)
	}

	instance, err := p.launchSpot(ctx, instanceType, keyName, securityGroup)
	if err != nil {
		p.deleteKeyPair(ctx, keyName)
		return nil, err
	}

	instance.Credentials = types.Credentials{
		"key_name":    keyName,
		"private_key": keyMaterial,
	}
	return instance, nil
}

func (p *EC2Provisioner) createKeyPair(ctx context.Context, keyName string) (string, error) {
	out, err := p.client.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName: aws.String(keyName),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidKeyPair.Duplicate" {
			p.deleteKeyPair(ctx, keyName)
			out, err = p.client.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
				KeyName: aws.String(keyName),
			})
		}
		if err != nil {
			return "", fmt.Errorf("create key pair %s: %w", keyName, err)
		}
	}
	return aws.ToString(out.KeyMaterial), nil
}

func (p *EC2Provisioner) deleteKeyPair(ctx context.Context, keyName string) {
	_, err := p.client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
		KeyName: aws.String(keyName),
	})
	if err != nil {
		log.Printf("Provision: failed to delete key pair %s: %v", keyName, err)
	}
}

// ensureSecurityGroup creates a fresh security group allowing SSH
func (p *EC2Provisioner) ensureSecurityGroup(ctx context.Context) (string, error) {
	groupName := fmt.Sprintf("rentald-gpu-%d", time.Now().Unix())

	created, err := p.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(groupName),
		Description: aws.String("GPU rental instances, SSH access"),
	})
	if err != nil {
		return "", fmt.Errorf("create security group: %w", err)
	}

	_, err = p.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: created.GroupId,
		IpPermissions: []ec2types.IpPermission{
			{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(22),
				ToPort:     aws.Int32(22),
				IpRanges: []ec2types.IpRange{
					{CidrIp: aws.String("0.0.0.0/0")},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("authorize SSH ingress: %w", err)
	}

	return groupName, nil
}

func (p *EC2Provisioner) launchSpot(ctx context.Context, instanceType, keyName, securityGroup string) (*Instance, error) {
	spot, err := p.client.RequestSpotInstances(ctx, &ec2.RequestSpotInstancesInput{
		InstanceCount: aws.Int32(1),
		Type:          ec2types.SpotInstanceTypeOneTime,
		LaunchSpecification: &ec2types.RequestSpotLaunchSpecification{
			ImageId:        aws.String(p.cfg.AMIID),
			InstanceType:   ec2types.InstanceType(instanceType),
			KeyName:        aws.String(keyName),
			SecurityGroups: []string{securityGroup},
			Placement: &ec2types.SpotPlacement{
				AvailabilityZone: aws.String(p.cfg.AvailabilityZone),
			},
		},
	})
	if err != nil {
		return nil, classifyAWSError(err)
	}

	requestID := aws.ToString(spot.SpotInstanceRequests[0].SpotInstanceRequestId)
	log.Printf("Provision: spot request %s for %s", requestID, instanceType)

	describeInput := &ec2.DescribeSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	}

	fulfilled := ec2.NewSpotInstanceRequestFulfilledWaiter(p.client)
	if err := fulfilled.Wait(ctx, describeInput, p.cfg.ProvisionTimeout); err != nil {
		return nil, p.failSpotRequest(ctx, requestID, err)
	}

	described, err := p.client.DescribeSpotInstanceRequests(ctx, describeInput)
	if err != nil {
		return nil, classifyAWSError(err)
	}
	instanceID := aws.ToString(described.SpotInstanceRequests[0].InstanceId)

	running := ec2.NewInstanceRunningWaiter(p.client)
	runningInput := &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}}
	if err := running.Wait(ctx, runningInput, p.cfg.ProvisionTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("instance %s: %w", instanceID, ErrProvisionTimeout)
		}
		return nil, classifyAWSError(err)
	}

	out, err := p.client.DescribeInstances(ctx, runningInput)
	if err != nil {
		return nil, classifyAWSError(err)
	}
	ec2Instance := out.Reservations[0].Instances[0]

	return &Instance{
		ID:           instanceID,
		IP:           aws.ToString(ec2Instance.PublicIpAddress),
		DNS:          aws.ToString(ec2Instance.PublicDnsName),
		InstanceType: instanceType,
	}, nil
}

// failSpotRequest inspects why a spot request did not fulfill, cancels
// it, and returns the classified error
func (p *EC2Provisioner) failSpotRequest(ctx context.Context, requestID string, waitErr error) error {
	// The waiter context may already be expired; use a short detached
	// context for the status lookup and cancel
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	statusCode := ""
	described, err := p.client.DescribeSpotInstanceRequests(cleanupCtx, &ec2.DescribeSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	})
	if err == nil && len(described.SpotInstanceRequests) > 0 && described.SpotInstanceRequests[0].Status != nil {
		statusCode = aws.ToString(described.SpotInstanceRequests[0].Status.Code)
	}

	_, err = p.client.CancelSpotInstanceRequests(cleanupCtx, &ec2.CancelSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	})
	if err != nil {
		log.Printf("Provision: failed to cancel spot request %s: %v", requestID, err)
	}

	if statusCode == "capacity-not-available" {
		return &ProvisionError{Kind: types.ErrKindProvisionCapacity, Err: fmt.Errorf("spot request %s: no capacity available", requestID)}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("spot request %s: %w", requestID, ErrProvisionTimeout)
	}
	return &ProvisionError{Kind: types.ErrKindProvisionTransient, Err: fmt.Errorf("spot request %s not fulfilled: %w", requestID, waitErr)}
}

// Terminate shuts down the instance. Unknown or already terminated
// instances are not an error.
func (p *EC2Provisioner) Terminate(ctx context.Context, instanceID string) error {
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed", "IncorrectInstanceState":
				log.Printf("Provision: terminate %s: already gone (%s)", instanceID, apiErr.ErrorCode())
				return nil
			}
		}
		return fmt.Errorf("terminate instance %s: %w", instanceID, err)
	}
	return nil
}

// Inspect returns the provider-side state of an instance
func (p *EC2Provisioner) Inspect(ctx context.Context, instanceID string) (*InstanceInfo, error) {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && strings.HasPrefix(apiErr.ErrorCode(), "InvalidInstanceID") {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("describe instance %s: %w", instanceID, err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return nil, ErrInstanceNotFound
	}

	inst := out.Reservations[0].Instances[0]
	info := &InstanceInfo{
		ID:    aws.ToString(inst.InstanceId),
		State: string(inst.State.Name),
		IP:    aws.ToString(inst.PublicIpAddress),
		DNS:   aws.ToString(inst.PublicDnsName),
	}
	if inst.LaunchTime != nil {
		info.LaunchAt = *inst.LaunchTime
	}
	return info, nil
}

// classifyAWSError maps AWS API errors onto the provisioning error
// taxonomy. Quota exhaustion and capacity shortfalls are actionable by
// the caller; everything else is transient.
func classifyAWSError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return &ProvisionError{Kind: types.ErrKindProvisionTransient, Err: err}
	}

	switch apiErr.ErrorCode() {
	case "MaxSpotInstanceCountExceeded", "SpotMaxPriceTooLow", "InstanceLimitExceeded":
		return &ProvisionError{Kind: types.ErrKindProvisionQuota, Err: err}
	case "InsufficientInstanceCapacity", "Unsupported":
		return &ProvisionError{Kind: types.ErrKindProvisionCapacity, Err: err}
	default:
		return &ProvisionError{Kind: types.ErrKindProvisionTransient, Err: err}
	}
}
