package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fleetworks/director/cpi"
)

// Provider drives EC2. VM cids are instance ids, disk cids are volume
// ids, snapshot cids are snapshot ids; all opaque to callers.
type Provider struct {
	ec2  *ec2.EC2
	meta *ec2metadata.EC2Metadata

	DefaultInstanceType string
	AvailabilityZone    string
	SubnetID            string

	logger log.Logger
}

type Config struct {
	Region              string
	DefaultInstanceType string
	AvailabilityZone    string
	SubnetID            string
}

func New(cfg Config, logger log.Logger) (*Provider, error) {
	sess, err := session.NewSession(aws.NewConfig().WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	instanceType := cfg.DefaultInstanceType
	if instanceType == "" {
		instanceType = "m4.large"
	}
	return &Provider{
		ec2:                 ec2.New(sess),
		meta:                ec2metadata.New(sess),
		DefaultInstanceType: instanceType,
		AvailabilityZone:    cfg.AvailabilityZone,
		SubnetID:            cfg.SubnetID,
		logger:              logger,
	}, nil
}

var _ cpi.CPI = &Provider{}

func isAWSNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		code := aerr.Code()
		return strings.HasSuffix(code, ".NotFound")
	}
	return false
}

func (p *Provider) CreateVM(ctx context.Context, agentID, stemcellCID string, cloudProps map[string]interface{}, networks cpi.NetworkSettings) (string, error) {
	instanceType := p.DefaultInstanceType
	if t, ok := cloudProps["instance_type"].(string); ok && t != "" {
		instanceType = t
	}
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(stemcellCID),
		InstanceType: aws.String(instanceType),
		MinCount:     aws.Int64(1),
		MaxCount:     aws.Int64(1),
		TagSpecifications: []*ec2.TagSpecification{{
			ResourceType: aws.String("instance"),
			Tags: []*ec2.Tag{
				{Key: aws.String("director_agent_id"), Value: aws.String(agentID)},
			},
		}},
	}
	if p.SubnetID != "" {
		input.NetworkInterfaces = []*ec2.InstanceNetworkInterfaceSpecification{{
			DeviceIndex:      aws.Int64(0),
			SubnetId:         aws.String(p.SubnetID),
			PrivateIpAddress: aws.String(networks.IP),
		}}
	}
	out, err := p.ec2.RunInstancesWithContext(ctx, input)
	if err != nil {
		return "", errors.Wrap(err, "create_vm")
	}
	if len(out.Instances) == 0 {
		return "", errors.New("create_vm: no instance returned")
	}
	return aws.StringValue(out.Instances[0].InstanceId), nil
}

func (p *Provider) DeleteVM(ctx context.Context, vmCID string) error {
	_, err := p.ec2.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []*string{aws.String(vmCID)},
	})
	if isAWSNotFound(err) {
		return errors.Wrap(cpi.ErrVMNotFound, vmCID)
	}
	return errors.Wrap(err, "delete_vm")
}

func (p *Provider) CreateDisk(ctx context.Context, sizeMB int, cloudProps map[string]interface{}) (string, error) {
	sizeGB := int64((sizeMB + 1023) / 1024)
	input := &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String(p.AvailabilityZone),
		Size:             aws.Int64(sizeGB),
	}
	if t, ok := cloudProps["type"].(string); ok && t != "" {
		input.VolumeType = aws.String(t)
	}
	out, err := p.ec2.CreateVolumeWithContext(ctx, input)
	if err != nil {
		return "", errors.Wrap(err, "create_disk")
	}
	return aws.StringValue(out.VolumeId), nil
}

func (p *Provider) DeleteDisk(ctx context.Context, diskCID string) error {
	_, err := p.ec2.DeleteVolumeWithContext(ctx, &ec2.DeleteVolumeInput{
		VolumeId: aws.String(diskCID),
	})
	if isAWSNotFound(err) {
		return errors.Wrap(cpi.ErrDiskNotFound, diskCID)
	}
	return errors.Wrap(err, "delete_disk")
}

func (p *Provider) AttachDisk(ctx context.Context, vmCID, diskCID string) error {
	_, err := p.ec2.AttachVolumeWithContext(ctx, &ec2.AttachVolumeInput{
		InstanceId: aws.String(vmCID),
		VolumeId:   aws.String(diskCID),
		Device:     aws.String("/dev/sdf"),
	})
	return errors.Wrap(err, "attach_disk")
}

func (p *Provider) DetachDisk(ctx context.Context, vmCID, diskCID string) error {
	_, err := p.ec2.DetachVolumeWithContext(ctx, &ec2.DetachVolumeInput{
		InstanceId: aws.String(vmCID),
		VolumeId:   aws.String(diskCID),
	})
	return errors.Wrap(err, "detach_disk")
}

func (p *Provider) CreateSnapshot(ctx context.Context, diskCID string, metadata map[string]string) (string, error) {
	var tags []*ec2.Tag
	for k, v := range metadata {
		tags = append(tags, &ec2.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	input := &ec2.CreateSnapshotInput{
		VolumeId: aws.String(diskCID),
	}
	if len(tags) > 0 {
		input.TagSpecifications = []*ec2.TagSpecification{{
			ResourceType: aws.String("snapshot"),
			Tags:         tags,
		}}
	}
	out, err := p.ec2.CreateSnapshotWithContext(ctx, input)
	if err != nil {
		return "", errors.Wrap(err, "create_snapshot")
	}
	return aws.StringValue(out.SnapshotId), nil
}

func (p *Provider) DeleteSnapshot(ctx context.Context, snapshotCID string) error {
	_, err := p.ec2.DeleteSnapshotWithContext(ctx, &ec2.DeleteSnapshotInput{
		SnapshotId: aws.String(snapshotCID),
	})
	if isAWSNotFound(err) {
		return errors.Wrap(cpi.ErrSnapshotNotFound, snapshotCID)
	}
	return errors.Wrap(err, "delete_snapshot")
}

// FindByInventoryPath has no hierarchical inventory on EC2. The last
// path element is the instance id; a terminated instance counts as
// not found.
func (p *Provider) FindByInventoryPath(ctx context.Context, path []string) (string, error) {
	if len(path) == 0 {
		return "", errors.New("empty inventory path")
	}
	id := path[len(path)-1]
	out, err := p.ec2.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []*string{aws.String(id)},
	})
	if isAWSNotFound(err) {
		return "", errors.Wrap(cpi.ErrVMNotFound, strings.Join(path, "/"))
	}
	if err != nil {
		return "", errors.Wrap(err, "find_by_inventory_path")
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			state := aws.StringValue(inst.State.Name)
			if state == ec2.InstanceStateNameTerminated || state == ec2.InstanceStateNameShuttingDown {
				continue
			}
			return aws.StringValue(inst.InstanceId), nil
		}
	}
	return "", errors.Wrap(cpi.ErrVMNotFound, strings.Join(path, "/"))
}

func (p *Provider) CurrentVMID(ctx context.Context) (string, error) {
	doc, err := p.meta.GetInstanceIdentityDocument()
	if err != nil {
		return "", errors.Wrap(err, "current_vm_id")
	}
	return doc.InstanceID, nil
}
