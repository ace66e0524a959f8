package catalog

import "github.com/hitoshi/mentorbook/internal/model"

// SeedMentors は外部ストアが空のときに表示する静的なメンター一覧を返す。
// 呼び出しごとに新しいスライスを返す。
func SeedMentors() []model.Mentor {
	return []model.Mentor{
		{
			ID: "m-001", Name: "Priya Sharma", Title: "Senior Product Manager", Company: "Google",
			Expertise:  []string{"Product Management", "Career Transition", "Interview Prep"},
			Bio:        "12 years building consumer products. Helps engineers and analysts move into product roles.",
			ImageURL:   "/images/mentors/priya-sharma.jpg",
			HourlyRate: 1500, Rating: 4.9,
			PaymentURL: "https://rzp.io/l/priya-sharma",
		},
		{
			ID: "m-002", Name: "Rahul Mehta", Title: "Engineering Manager", Company: "Microsoft",
			Expertise:  []string{"Software Engineering", "System Design", "Interview Prep"},
			Bio:        "Leads a platform team of 30 engineers. Runs mock system design interviews every week.",
			ImageURL:   "/images/mentors/rahul-mehta.jpg",
			HourlyRate: 2000, Rating: 4.8,
			PaymentURL: "https://rzp.io/l/rahul-mehta",
		},
		{
			ID: "m-003", Name: "Ananya Iyer", Title: "HR Business Partner", Company: "Deloitte",
			Expertise:  []string{"Resume Review", "LinkedIn Optimization", "Salary Negotiation"},
			Bio:        "Has reviewed thousands of applications across consulting and tech hiring.",
			ImageURL:   "/images/mentors/ananya-iyer.jpg",
			HourlyRate: 950, Rating: 4.7,
			PaymentURL: "https://rzp.io/l/ananya-iyer",
		},
		{
			ID: "m-004", Name: "Vikram Singh", Title: "Data Science Lead", Company: "Amazon",
			Expertise:  []string{"Data Science", "Machine Learning", "Career Transition"},
			Bio:        "Moved from mechanical engineering to machine learning and now mentors career switchers.",
			ImageURL:   "/images/mentors/vikram-singh.jpg",
			HourlyRate: 1800, Rating: 4.9,
			PaymentURL: "https://rzp.io/l/vikram-singh",
		},
		{
			ID: "m-005", Name: "Sneha Kapoor", Title: "Talent Acquisition Lead", Company: "Infosys",
			Expertise:  []string{"Resume Review", "Interview Prep", "LinkedIn Optimization"},
			Bio:        "Campus hiring specialist focused on freshers and early-career candidates.",
			ImageURL:   "/images/mentors/sneha-kapoor.jpg",
			HourlyRate: 1000, Rating: 4.6,
			PaymentURL: "https://rzp.io/l/sneha-kapoor",
		},
		{
			ID: "m-006", Name: "Arjun Nair", Title: "UX Design Manager", Company: "Adobe",
			Expertise:  []string{"UX Design", "Portfolio Review"},
			Bio:        "Design leader who helps designers tell stronger stories with their portfolios.",
			ImageURL:   "/images/mentors/arjun-nair.jpg",
			HourlyRate: 1200, Rating: 4.5,
			PaymentURL: "https://rzp.io/l/arjun-nair",
		},
		{
			ID: "m-007", Name: "Meera Joshi", Title: "Marketing Director", Company: "Unilever",
			Expertise:  []string{"Digital Marketing", "Personal Branding"},
			Bio:        "Brand strategist with experience across FMCG and direct-to-consumer startups.",
			ImageURL:   "/images/mentors/meera-joshi.jpg",
			HourlyRate: 1300, Rating: 4.8,
			PaymentURL: "https://rzp.io/l/meera-joshi",
		},
		{
			ID: "m-008", Name: "Karan Malhotra", Title: "Founder", Company: "Razorpay Alumni Network",
			Expertise:  []string{"Entrepreneurship", "Fundraising"},
			Bio:        "Two-time founder. Helps first-time founders prepare pitch decks and seed rounds.",
			ImageURL:   "/images/mentors/karan-malhotra.jpg",
			HourlyRate: 1600, Rating: 4.4,
			PaymentURL: "https://rzp.io/l/karan-malhotra",
		},
	}
}

// SeedResources は外部ストアが空のときに表示する静的なリソース一覧を返す。
func SeedResources() []model.Resource {
	return []model.Resource{
		{ID: "r-001", Title: "Cracking the Product Management Interview", Type: model.ResourceTypeVideo,
			URL: "https://www.youtube.com/watch?v=pm-interview", Description: "Walkthrough of product sense and execution questions.", Category: "Interview Prep"},
		{ID: "r-002", Title: "Resume Template for Freshers", Type: model.ResourceTypeDocument,
			URL: "https://example.com/resources/resume-template.pdf", Description: "One-page resume template with annotated examples.", Category: "Resume Review"},
		{ID: "r-003", Title: "Optimising Your LinkedIn Headline", Type: model.ResourceTypeVideo,
			URL: "https://www.youtube.com/watch?v=linkedin-headline", Description: "How recruiters search profiles and what they look for.", Category: "Personal Branding"},
		{ID: "r-004", Title: "System Design Primer", Type: model.ResourceTypeDocument,
			URL: "https://example.com/resources/system-design-primer.pdf", Description: "Core building blocks for scalable systems.", Category: "Software Engineering"},
		{ID: "r-005", Title: "Negotiating Your First Offer", Type: model.ResourceTypeDocument,
			URL: "https://example.com/resources/salary-negotiation.pdf", Description: "Scripts and benchmarks for salary conversations.", Category: "Salary Negotiation"},
		{ID: "r-006", Title: "Switching Careers into Data Science", Type: model.ResourceTypeVideo,
			URL: "https://www.youtube.com/watch?v=ds-switch", Description: "A roadmap for career switchers with no CS degree.", Category: "Career Transition"},
	}
}
