package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/tally/pkg/resource"
)

// listInstances lists instances that have not been terminated.
func (b *Backend) listInstances(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	var nextToken *string

	for {
		output, err := b.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				if instance.State != nil && instance.State.Name == ec2types.InstanceStateNameTerminated {
					continue
				}
				out = append(out, convertInstance(cloudContext, instance).Remote())
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return out, nil
}

func convertInstance(cloudContext string, instance ec2types.Instance) resource.Instance {
	i := resource.Instance{
		BaseResource: base(cloudContext, aws.ToString(instance.InstanceId), instance.Tags),
		InstanceType: string(instance.InstanceType),
		VPCID:        aws.ToString(instance.VpcId),
		SubnetID:     aws.ToString(instance.SubnetId),
		PrivateIP:    aws.ToString(instance.PrivateIpAddress),
		PublicIP:     aws.ToString(instance.PublicIpAddress),
		ImageID:      aws.ToString(instance.ImageId),
		KeyName:      aws.ToString(instance.KeyName),
		LaunchTime:   aws.ToTime(instance.LaunchTime),
	}
	if instance.State != nil {
		i.State = string(instance.State.Name)
	}
	if instance.Placement != nil {
		i.AvailabilityZone = aws.ToString(instance.Placement.AvailabilityZone)
	}
	for _, sg := range instance.SecurityGroups {
		i.SecurityGroups = append(i.SecurityGroups, aws.ToString(sg.GroupId))
	}
	i.Created = i.LaunchTime
	return i
}

func (b *Backend) listVolumes(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	var nextToken *string

	for {
		output, err := b.ec2Client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe volumes: %w", err)
		}

		for _, volume := range output.Volumes {
			out = append(out, convertVolume(cloudContext, volume).Remote())
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return out, nil
}

func convertVolume(cloudContext string, volume ec2types.Volume) resource.Volume {
	v := resource.Volume{
		BaseResource:     base(cloudContext, aws.ToString(volume.VolumeId), volume.Tags),
		SizeGiB:          aws.ToInt32(volume.Size),
		VolumeType:       string(volume.VolumeType),
		State:            string(volume.State),
		AvailabilityZone: aws.ToString(volume.AvailabilityZone),
		Encrypted:        aws.ToBool(volume.Encrypted),
		IOPS:             aws.ToInt32(volume.Iops),
		SnapshotID:       aws.ToString(volume.SnapshotId),
	}
	v.Created = aws.ToTime(volume.CreateTime)
	for _, att := range volume.Attachments {
		if att.State == ec2types.VolumeAttachmentStateAttached || att.State == ec2types.VolumeAttachmentStateAttaching {
			v.AttachedInstance = aws.ToString(att.InstanceId)
			break
		}
	}
	return v
}

// listSnapshots lists snapshots owned by the account.
func (b *Backend) listSnapshots(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	var nextToken *string

	for {
		output, err := b.ec2Client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
			OwnerIds:  []string{"self"},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe snapshots: %w", err)
		}

		for _, snap := range output.Snapshots {
			s := resource.Snapshot{
				BaseResource:  base(cloudContext, aws.ToString(snap.SnapshotId), snap.Tags),
				VolumeID:      aws.ToString(snap.VolumeId),
				VolumeSizeGiB: aws.ToInt32(snap.VolumeSize),
				State:         string(snap.State),
				Progress:      aws.ToString(snap.Progress),
				Description:   aws.ToString(snap.Description),
				Encrypted:     aws.ToBool(snap.Encrypted),
				Started:       aws.ToTime(snap.StartTime),
			}
			s.Created = s.Started
			out = append(out, s.Remote())
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return out, nil
}

func (b *Backend) listSecurityGroups(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	var nextToken *string

	for {
		output, err := b.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe security groups: %w", err)
		}

		for _, sg := range output.SecurityGroups {
			g := resource.SecurityGroup{
				BaseResource: base(cloudContext, aws.ToString(sg.GroupId), sg.Tags),
				GroupName:    aws.ToString(sg.GroupName),
				Description:  aws.ToString(sg.Description),
				VPCID:        aws.ToString(sg.VpcId),
				Inbound:      convertPermissions(sg.IpPermissions),
				Outbound:     convertPermissions(sg.IpPermissionsEgress),
			}
			out = append(out, g.Remote())
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return out, nil
}

func convertPermissions(perms []ec2types.IpPermission) []resource.IPPermission {
	var out []resource.IPPermission
	for _, p := range perms {
		perm := resource.IPPermission{
			Protocol: aws.ToString(p.IpProtocol),
			FromPort: aws.ToInt32(p.FromPort),
			ToPort:   aws.ToInt32(p.ToPort),
		}
		for _, r := range p.IpRanges {
			perm.CIDRs = append(perm.CIDRs, aws.ToString(r.CidrIp))
		}
		for _, r := range p.Ipv6Ranges {
			perm.CIDRs = append(perm.CIDRs, aws.ToString(r.CidrIpv6))
		}
		for _, g := range p.UserIdGroupPairs {
			perm.Groups = append(perm.Groups, aws.ToString(g.GroupId))
		}
		out = append(out, perm)
	}
	return out
}

// listAddresses lists Elastic IPs. DescribeAddresses is not paginated.
func (b *Backend) listAddresses(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	output, err := b.ec2Client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, fmt.Errorf("describe addresses: %w", err)
	}

	out := make([]resource.RemoteResource, 0, len(output.Addresses))
	for _, addr := range output.Addresses {
		e := resource.ElasticIP{
			BaseResource:       base(cloudContext, aws.ToString(addr.AllocationId), addr.Tags),
			PublicIP:           aws.ToString(addr.PublicIp),
			PrivateIP:          aws.ToString(addr.PrivateIpAddress),
			Domain:             string(addr.Domain),
			AssociationID:      aws.ToString(addr.AssociationId),
			InstanceID:         aws.ToString(addr.InstanceId),
			NetworkInterfaceID: aws.ToString(addr.NetworkInterfaceId),
		}
		out = append(out, e.Remote())
	}
	return out, nil
}

// listKeyPairs lists key pairs. DescribeKeyPairs is not paginated.
func (b *Backend) listKeyPairs(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	output, err := b.ec2Client.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{})
	if err != nil {
		return nil, fmt.Errorf("describe key pairs: %w", err)
	}

	out := make([]resource.RemoteResource, 0, len(output.KeyPairs))
	for _, kp := range output.KeyPairs {
		k := resource.KeyPair{
			BaseResource: base(cloudContext, aws.ToString(kp.KeyPairId), kp.Tags),
			KeyName:      aws.ToString(kp.KeyName),
			KeyType:      string(kp.KeyType),
			Fingerprint:  aws.ToString(kp.KeyFingerprint),
		}
		k.Created = aws.ToTime(kp.CreateTime)
		out = append(out, k.Remote())
	}
	return out, nil
}

func (b *Backend) listNetworkInterfaces(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	var nextToken *string

	for {
		output, err := b.ec2Client.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe network interfaces: %w", err)
		}

		for _, eni := range output.NetworkInterfaces {
			n := resource.NetworkInterface{
				BaseResource:     base(cloudContext, aws.ToString(eni.NetworkInterfaceId), eni.TagSet),
				Status:           string(eni.Status),
				Description:      aws.ToString(eni.Description),
				InterfaceType:    string(eni.InterfaceType),
				PrivateIP:        aws.ToString(eni.PrivateIpAddress),
				SubnetID:         aws.ToString(eni.SubnetId),
				VPCID:            aws.ToString(eni.VpcId),
				AvailabilityZone: aws.ToString(eni.AvailabilityZone),
			}
			if eni.Attachment != nil {
				n.AttachedInstance = aws.ToString(eni.Attachment.InstanceId)
			}
			out = append(out, n.Remote())
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return out, nil
}

// listImages lists AMIs owned by the account.
func (b *Backend) listImages(ctx context.Context, cloudContext string) ([]resource.RemoteResource, error) {
	var out []resource.RemoteResource
	var nextToken *string

	for {
		output, err := b.ec2Client.DescribeImages(ctx, &ec2.DescribeImagesInput{
			Owners:    []string{"self"},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe images: %w", err)
		}

		for _, img := range output.Images {
			i := resource.Image{
				BaseResource:   base(cloudContext, aws.ToString(img.ImageId), img.Tags),
				ImageName:      aws.ToString(img.Name),
				State:          string(img.State),
				Architecture:   string(img.Architecture),
				RootDeviceType: string(img.RootDeviceType),
				Public:         aws.ToBool(img.Public),
				CreationDate:   aws.ToString(img.CreationDate),
			}
			out = append(out, i.Remote())
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return out, nil
}
