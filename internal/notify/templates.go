package notify

import "fmt"

func VerificationMail(to, name string) Mail {
	return Mail{
		To:      to,
		Subject: "Your Mediquory Connect account is verified",
		Body: fmt.Sprintf("Dear Dr. %s,\n\nYour documents have been reviewed and your account is now verified. "+
			"You can start adding patients and holding consultations.\n\nMediquory Connect", name),
	}
}

func RejectionMail(to, name, reason string) Mail {
	return Mail{
		To:      to,
		Subject: "Your Mediquory Connect verification was not approved",
		Body: fmt.Sprintf("Dear Dr. %s,\n\nWe could not verify your account.\nReason: %s\n\n"+
			"You can upload corrected documents from your dashboard to request another review.\n\nMediquory Connect", name, reason),
	}
}

func SuspensionMail(to, name, reason string) Mail {
	return Mail{
		To:      to,
		Subject: "Your Mediquory Connect account is suspended",
		Body:    fmt.Sprintf("Dear Dr. %s,\n\nYour account has been suspended.\nReason: %s\n\nMediquory Connect", name, reason),
	}
}

func PrescriptionMail(to, requesterName, providerName, serial string, pdf []byte) Mail {
	return Mail{
		To:      to,
		Subject: "Prescription " + serial,
		Body: fmt.Sprintf("Dear %s,\n\nDr. %s has issued prescription %s for your consultation. "+
			"It is attached to this message.\n\nMediquory Connect", requesterName, providerName, serial),
		Attachments: []Attachment{{Name: "prescription-" + serial + ".pdf", Data: pdf}},
	}
}

func NewMessageMail(to, providerName, requesterName string) Mail {
	return Mail{
		To:      to,
		Subject: "New message from " + requesterName,
		Body: fmt.Sprintf("Dear Dr. %s,\n\n%s sent you a new message in an active consultation.\n\nMediquory Connect",
			providerName, requesterName),
	}
}
