package cloud

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// AWSClient implements the Client interface over EC2
type AWSClient struct {
	client *ec2.Client
	region string
}

// NewAWSClient creates an EC2-backed client. With empty static credentials
// the default chain (env, shared config, instance profile) applies.
func NewAWSClient(ctx context.Context, region, accessKey, secretKey string) (*AWSClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSClient{client: ec2.NewFromConfig(cfg), region: region}, nil
}

// Describe finds the newest non-terminated instance carrying all the given
// tags. Terminated and absent both yield nil.
func (c *AWSClient) Describe(ctx context.Context, tags map[string]string) (*Instance, error) {
	filters := make([]types.Filter, 0, len(tags)+1)
	for k, v := range tags {
		filters = append(filters, types.Filter{
			Name:   aws.String("tag:" + k),
			Values: []string{v},
		})
	}
	filters = append(filters, types.Filter{
		Name:   aws.String("instance-state-name"),
		Values: []string{"pending", "running", "stopping", "stopped"},
	})

	out, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{Filters: filters})
	if err != nil {
		return nil, wrapAWSError("describe instances", err)
	}

	var newest *types.Instance
	for _, r := range out.Reservations {
		for i := range r.Instances {
			inst := &r.Instances[i]
			if newest == nil || aws.ToTime(inst.LaunchTime).After(aws.ToTime(newest.LaunchTime)) {
				newest = inst
			}
		}
	}
	if newest == nil {
		return nil, nil
	}
	return awsInstance(newest), nil
}

// Run launches the instance and returns it immediately; callers poll
// Describe until it reaches running.
func (c *AWSClient) Run(ctx context.Context, spec RunSpec) (*Instance, error) {
	userData, err := generateUserData(spec.Username, spec.SSHPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user data: %w", err)
	}

	ec2Tags := make([]types.Tag, 0, len(spec.Tags)+1)
	ec2Tags = append(ec2Tags, types.Tag{Key: aws.String("Name"), Value: aws.String(spec.Name)})
	for k, v := range spec.Tags {
		ec2Tags = append(ec2Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString([]byte(userData))),
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags:         ec2Tags,
			},
		},
	}

	out, err := c.client.RunInstances(ctx, input)
	if err != nil {
		return nil, wrapAWSError("run instance", err)
	}
	if len(out.Instances) == 0 {
		return nil, fmt.Errorf("run instance returned no instances")
	}
	return awsInstance(&out.Instances[0]), nil
}

// Start starts a stopped instance. EC2 treats start of a running instance
// as a no-op success, which matches the contract.
func (c *AWSClient) Start(ctx context.Context, instanceID string) error {
	_, err := c.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return wrapAWSError("start instance", err)
	}
	return nil
}

// Stop stops a running instance; stopping an already stopped instance is
// a no-op success on the provider side.
func (c *AWSClient) Stop(ctx context.Context, instanceID string) error {
	_, err := c.client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return wrapAWSError("stop instance", err)
	}
	return nil
}

// Terminate terminates the instance
func (c *AWSClient) Terminate(ctx context.Context, instanceID string) error {
	_, err := c.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return wrapAWSError("terminate instance", err)
	}
	return nil
}

func awsInstance(inst *types.Instance) *Instance {
	tags := make(map[string]string, len(inst.Tags))
	for _, t := range inst.Tags {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return &Instance{
		ID:            aws.ToString(inst.InstanceId),
		PublicAddress: aws.ToString(inst.PublicIpAddress),
		Type:          string(inst.InstanceType),
		Zone:          zoneOf(inst),
		Tags:          tags,
		LaunchedAt:    aws.ToTime(inst.LaunchTime),
		Status:        mapAWSState(inst.State),
	}
}

func zoneOf(inst *types.Instance) string {
	if inst.Placement == nil {
		return ""
	}
	return aws.ToString(inst.Placement.AvailabilityZone)
}

func mapAWSState(st *types.InstanceState) Status {
	if st == nil {
		return StatusPending
	}
	switch st.Name {
	case types.InstanceStateNamePending:
		return StatusPending
	case types.InstanceStateNameRunning:
		return StatusRunning
	case types.InstanceStateNameStopping:
		return StatusStopping
	case types.InstanceStateNameStopped:
		return StatusStopped
	case types.InstanceStateNameShuttingDown, types.InstanceStateNameTerminated:
		return StatusTerminated
	default:
		return StatusPending
	}
}

// wrapAWSError tags throttling and availability errors as transient so
// callers retry them with backoff instead of failing outright.
func wrapAWSError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestLimitExceeded", "Throttling", "ThrottlingException",
			"RequestThrottled", "ServiceUnavailable", "InternalError",
			"IncorrectInstanceState":
			return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
