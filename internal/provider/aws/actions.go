package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/yairfalse/tally/pkg/resource"
)

// Act performs a bulk action on one resource.
func (b *Backend) Act(ctx context.Context, _ string, t resource.Type, action resource.Action, id string) error {
	var err error
	switch {
	case t == resource.TypeInstance && action == resource.ActionDelete:
		_, err = b.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
	case t == resource.TypeInstance && action == resource.ActionStart:
		_, err = b.ec2Client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{id}})
	case t == resource.TypeInstance && action == resource.ActionStop:
		_, err = b.ec2Client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{id}})
	case t == resource.TypeInstance && action == resource.ActionReboot:
		_, err = b.ec2Client.RebootInstances(ctx, &ec2.RebootInstancesInput{InstanceIds: []string{id}})
	case t == resource.TypeVolume && action == resource.ActionDelete:
		_, err = b.ec2Client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(id)})
	case t == resource.TypeVolume && action == resource.ActionDetach:
		_, err = b.ec2Client.DetachVolume(ctx, &ec2.DetachVolumeInput{VolumeId: aws.String(id)})
	case t == resource.TypeSnapshot && action == resource.ActionDelete:
		_, err = b.ec2Client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(id)})
	case t == resource.TypeSecurityGroup && action == resource.ActionDelete:
		_, err = b.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(id)})
	case t == resource.TypeElasticIP && action == resource.ActionDelete:
		_, err = b.ec2Client.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{AllocationId: aws.String(id)})
	case t == resource.TypeElasticIP && action == resource.ActionDisassociate:
		err = b.disassociateAddress(ctx, id)
	case t == resource.TypeKeyPair && action == resource.ActionDelete:
		_, err = b.ec2Client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyPairId: aws.String(id)})
	case t == resource.TypeNetworkInterface && action == resource.ActionDelete:
		_, err = b.ec2Client.DeleteNetworkInterface(ctx, &ec2.DeleteNetworkInterfaceInput{NetworkInterfaceId: aws.String(id)})
	case t == resource.TypeImage && action == resource.ActionDelete:
		_, err = b.ec2Client.DeregisterImage(ctx, &ec2.DeregisterImageInput{ImageId: aws.String(id)})
	default:
		return fmt.Errorf("%w: %s on %s", resource.ErrUnsupportedAction, action, t)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, id, err)
	}
	return nil
}

// disassociateAddress looks up the current association of an allocation.
// An unassociated address is left as is.
func (b *Backend) disassociateAddress(ctx context.Context, allocationID string) error {
	output, err := b.ec2Client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{AllocationIds: []string{allocationID}})
	if err != nil {
		return fmt.Errorf("describe address: %w", err)
	}
	for _, addr := range output.Addresses {
		if addr.AssociationId == nil {
			continue
		}
		if _, err := b.ec2Client.DisassociateAddress(ctx, &ec2.DisassociateAddressInput{AssociationId: addr.AssociationId}); err != nil {
			return err
		}
	}
	return nil
}
